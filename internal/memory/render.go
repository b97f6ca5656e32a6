// ABOUTME: Content hashing and HTML rendering for memory nodes
// ABOUTME: Uses blake3 for change detection and goldmark for markdown

package memory

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/zeebo/blake3"

	"github.com/2389/coven-toolhost/internal/store"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// RenderHTML renders a node as an HTML fragment: the escaped title, the
// description and the markdown body. Raw HTML in content is not passed through.
func RenderHTML(node *store.MemoryNode) (string, error) {
	var body bytes.Buffer
	if err := markdownRenderer().Convert([]byte(node.Content), &body); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<article data-node-id=\"%s\">\n", html.EscapeString(node.ID))
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(node.Title))
	if node.Description != "" {
		fmt.Fprintf(&b, "<p class=\"description\">%s</p>\n", html.EscapeString(node.Description))
	}
	b.Write(body.Bytes())
	if len(node.Refs) > 0 {
		b.WriteString("<ul class=\"refs\">\n")
		for _, ref := range node.Refs {
			escaped := html.EscapeString(ref)
			fmt.Fprintf(&b, "<li><a href=\"%s.html\">%s</a></li>\n", escaped, escaped)
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</article>\n")
	return b.String(), nil
}

// hashNode is the blake3 digest of the fields that make up a node's state.
func hashNode(n *store.MemoryNode) string {
	h := blake3.New()
	for _, part := range []string{n.Title, n.Description, n.Content, strings.Join(n.Refs, "\n")} {
		fmt.Fprintf(h, "%d:", len(part))
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
