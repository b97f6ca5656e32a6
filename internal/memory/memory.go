// ABOUTME: Memory graph service: user-scoped markdown nodes linked by refs
// ABOUTME: Handles the virtual root, parent linking and change versioning

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/store"
)

// RootID is the virtual root node. Its refs are every node no other node references.
const RootID = "__root__"

// Memory errors
var (
	ErrNodeNotFound  = errors.New("memory node not found")
	ErrReservedID    = errors.New("node ids starting with __ are reserved")
	ErrTitleRequired = errors.New("title is required")
	ErrSelfParent    = errors.New("a node cannot be its own parent")
)

// Config configures a Service.
type Config struct {
	Store  store.MemoryStore
	Logger *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service reads and writes memory graph nodes.
type Service struct {
	store  store.MemoryStore
	logger *slog.Logger
	now    func() time.Time

	// serializes read-modify-write of nodes and their parents
	mu sync.Mutex
}

// New creates a memory Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  cfg.Store,
		logger: logger.With("component", "memory"),
		now:    now,
	}
}

// WriteInput describes a node create or update.
type WriteInput struct {
	// NodeID is generated when empty.
	NodeID      string
	Title       string
	Description string
	Content     string
	// Parents default to the root. Missing parents are skipped.
	Parents []string
	// Refs replaces the node's refs. Nil keeps existing refs on update.
	Refs []string
	// ChangeDescription archives the previous state when the node changed.
	ChangeDescription string
}

// WriteResult is the outcome of WriteNode.
type WriteResult struct {
	Node    *store.MemoryNode
	Created bool
}

// ReadNode returns a node, or the synthesized root for RootID.
func (s *Service) ReadNode(ctx context.Context, userID, id string) (*store.MemoryNode, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == RootID {
		return s.readRoot(ctx, userID)
	}

	node, err := s.store.GetMemoryNode(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory node: %w", err)
	}
	return node, nil
}

// WriteNode creates or updates a node and links it under its parents.
func (s *Service) WriteNode(ctx context.Context, userID string, in WriteInput) (*WriteResult, error) {
	id := strings.TrimSpace(in.NodeID)
	if id == "" {
		id = uuid.New().String()
	}
	if strings.HasPrefix(id, "__") {
		return nil, fmt.Errorf("%w: %s", ErrReservedID, id)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	parents := normalizeIDs(in.Parents)
	if len(parents) == 0 {
		parents = []string{RootID}
	}
	if slices.Contains(parents, id) {
		return nil, fmt.Errorf("%w: %s", ErrSelfParent, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetMemoryNode(ctx, userID, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading memory node: %w", err)
	}

	now := s.now()
	node := &store.MemoryNode{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Content:     in.Content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch {
	case in.Refs != nil:
		node.Refs = removeID(normalizeIDs(in.Refs), id)
	case existing != nil:
		node.Refs = existing.Refs
	}

	toSave, versions := s.prepareSave(existing, node, in.ChangeDescription, now)

	for _, parentID := range parents {
		if parentID == RootID {
			continue
		}
		parent, err := s.store.GetMemoryNode(ctx, userID, parentID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("skipping missing parent", "user_id", userID, "node_id", id, "parent_id", parentID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading parent %s: %w", parentID, err)
		}
		if slices.Contains(parent.Refs, id) {
			continue
		}
		parent.Refs = append(parent.Refs, id)
		parent.UpdatedAt = now
		parent.ContentHash = hashNode(parent)
		toSave = append(toSave, parent)
	}

	if err := s.store.SaveMemoryNodes(ctx, userID, toSave, versions); err != nil {
		return nil, fmt.Errorf("saving memory node: %w", err)
	}

	s.logger.Debug("wrote memory node", "user_id", userID, "node_id", id, "version", node.Version, "created", existing == nil)
	return &WriteResult{Node: node, Created: existing == nil}, nil
}

// Append adds content to the end of a node, separated by a newline when needed.
func (s *Service) Append(ctx context.Context, userID, id, content, changeDescription string) (*store.MemoryNode, error) {
	if id == RootID {
		return nil, fmt.Errorf("%w: %s", ErrReservedID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetMemoryNode(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory node: %w", err)
	}

	separator := ""
	if existing.Content != "" && !strings.HasSuffix(existing.Content, "\n") {
		separator = "\n"
	}

	now := s.now()
	updated := *existing
	updated.Content = existing.Content + separator + content
	updated.UpdatedAt = now

	toSave, versions := s.prepareSave(existing, &updated, changeDescription, now)
	if err := s.store.SaveMemoryNodes(ctx, userID, toSave, versions); err != nil {
		return nil, fmt.Errorf("saving memory node: %w", err)
	}
	return &updated, nil
}

// Versions returns the archived versions of a node, oldest first.
func (s *Service) Versions(ctx context.Context, userID, id string) ([]*store.MemoryNodeVersion, error) {
	if _, err := s.ReadNode(ctx, userID, id); err != nil {
		return nil, err
	}
	versions, err := s.store.ListMemoryNodeVersions(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// prepareSave fills version bookkeeping on node. When the node existed, a
// change description was given and the hash changed, the previous state
// is archived and the version advances.
func (s *Service) prepareSave(existing, node *store.MemoryNode, changeDescription string, now time.Time) ([]*store.MemoryNode, []*store.MemoryNodeVersion) {
	node.ContentHash = hashNode(node)
	if existing == nil {
		node.Version = 1
		return []*store.MemoryNode{node}, nil
	}

	node.CreatedAt = existing.CreatedAt
	node.Version = max(existing.Version, 1)

	var versions []*store.MemoryNodeVersion
	cd := strings.TrimSpace(changeDescription)
	if cd != "" && hashNode(existing) != node.ContentHash {
		versions = append(versions, &store.MemoryNodeVersion{
			NodeID:            existing.ID,
			UserID:            existing.UserID,
			Version:           node.Version,
			Title:             existing.Title,
			Description:       existing.Description,
			Content:           existing.Content,
			Refs:              existing.Refs,
			ContentHash:       hashNode(existing),
			ChangeDescription: cd,
			CreatedAt:         now,
		})
		node.Version++
	}
	return []*store.MemoryNode{node}, versions
}

func (s *Service) readRoot(ctx context.Context, userID string) (*store.MemoryNode, error) {
	tree, err := s.Tree(ctx, userID)
	if err != nil {
		return nil, err
	}
	return tree.Root, nil
}

// normalizeIDs trims ids and drops empties and duplicates, keeping order.
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id || v == RootID })
}
