// ABOUTME: BM25 ranking of memory nodes over weighted title, description and content
// ABOUTME: Okapi BM25 with composite documents built by repeating weighted fields

package memory

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/2389/coven-toolhost/internal/store"
)

// Search limits.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// Field weights for node search.
const (
	titleWeight       = 3
	descriptionWeight = 2
	contentWeight     = 1
)

// BM25 parameters (Okapi variant, standard values).
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// SearchHit is one ranked node.
type SearchHit struct {
	Node  *store.MemoryNode
	Score float64
}

// Search ranks a user's nodes against query. Nodes with no matching
// terms are omitted.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	nodes, err := s.store.ListMemoryNodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memory nodes: %w", err)
	}

	docs := make([][]field, len(nodes))
	for i, n := range nodes {
		docs[i] = []field{
			{text: n.Title, weight: titleWeight},
			{text: n.Description, weight: descriptionWeight},
			{text: n.Content, weight: contentWeight},
		}
	}

	ranked := newIndex(docs).search(query, limit)
	hits := make([]SearchHit, len(ranked))
	for i, r := range ranked {
		hits[i] = SearchHit{Node: nodes[r.doc], Score: r.score}
	}
	return hits, nil
}

type field struct {
	text   string
	weight int
}

type ranked struct {
	doc   int
	score float64
}

// index is an immutable BM25 index over composite documents.
type index struct {
	termFrequencies []map[string]int
	lengths         []int
	avgLength       float64
	idf             map[string]float64
}

func newIndex(docs [][]field) *index {
	idx := &index{
		termFrequencies: make([]map[string]int, len(docs)),
		lengths:         make([]int, len(docs)),
		idf:             make(map[string]float64),
	}

	documentFrequency := make(map[string]int)
	var total int
	for i, fields := range docs {
		tokens := compositeTokens(fields)
		idx.lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int)
		for _, tok := range tokens {
			if tf[tok] == 0 {
				documentFrequency[tok]++
			}
			tf[tok]++
		}
		idx.termFrequencies[i] = tf
	}
	if len(docs) > 0 {
		idx.avgLength = float64(total) / float64(len(docs))
	}

	n := float64(len(docs))
	for term, df := range documentFrequency {
		v := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if v < 0 {
			v = paramEpsilon
		}
		idx.idf[term] = v
	}
	return idx
}

func (idx *index) search(query string, limit int) []ranked {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	var hits []ranked
	for i := range idx.termFrequencies {
		if score := idx.score(i, terms); score > 0 {
			hits = append(hits, ranked{doc: i, score: score})
		}
	}

	// Stable so equal scores keep creation order
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *index) score(doc int, terms []string) float64 {
	tf := idx.termFrequencies[doc]
	length := float64(idx.lengths[doc])

	var score float64
	for _, term := range terms {
		idf, ok := idx.idf[term]
		if !ok {
			continue
		}
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		score += idf * (f * (paramK1 + 1)) / (f + paramK1*(1-paramB+paramB*length/idx.avgLength))
	}
	return score
}

func compositeTokens(fields []field) []string {
	var tokens []string
	for _, f := range fields {
		if f.weight <= 0 {
			continue
		}
		ft := tokenize(f.text)
		for range f.weight {
			tokens = append(tokens, ft...)
		}
	}
	return tokens
}

// tokenize splits text into lowercase alphanumeric tokens of length 2 or more.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, m := range matches {
		if len(m) >= 2 {
			tokens = append(tokens, m)
		}
	}
	return tokens
}
