// ABOUTME: Builds the memory graph tree with the virtual root on top
// ABOUTME: Orphan nodes become children of the root

package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-toolhost/internal/store"
)

// Tree is a user's memory graph.
type Tree struct {
	Root *store.MemoryNode
	// Nodes maps id to node, excluding the root.
	Nodes map[string]*store.MemoryNode
	// Children maps a node id to the ids of existing nodes it refs.
	Children map[string][]string
}

// Tree loads every node of a user and links them. Refs to missing nodes
// are dropped from Children.
func (s *Service) Tree(ctx context.Context, userID string) (*Tree, error) {
	nodes, err := s.store.ListMemoryNodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memory nodes: %w", err)
	}

	tree := &Tree{
		Nodes:    make(map[string]*store.MemoryNode, len(nodes)),
		Children: make(map[string][]string, len(nodes)+1),
	}
	for _, n := range nodes {
		tree.Nodes[n.ID] = n
	}

	referenced := make(map[string]bool)
	for _, n := range nodes {
		for _, ref := range n.Refs {
			if ref == n.ID {
				continue
			}
			if _, ok := tree.Nodes[ref]; !ok {
				continue
			}
			referenced[ref] = true
			tree.Children[n.ID] = append(tree.Children[n.ID], ref)
		}
	}

	var orphans []string
	for _, n := range nodes {
		if !referenced[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	tree.Children[RootID] = orphans

	tree.Root = &store.MemoryNode{
		ID:          RootID,
		UserID:      userID,
		Title:       "Memory",
		Description: "Root of the memory graph",
		Content:     rootContent(tree, orphans),
		Refs:        orphans,
		Version:     1,
	}
	return tree, nil
}

func rootContent(tree *Tree, children []string) string {
	if len(children) == 0 {
		return "Memory is empty."
	}
	var b strings.Builder
	b.WriteString("Top-level memory nodes:\n")
	for _, id := range children {
		n := tree.Nodes[id]
		fmt.Fprintf(&b, "\n- %s (%s)", n.Title, id)
		if n.Description != "" {
			fmt.Fprintf(&b, ": %s", n.Description)
		}
	}
	return b.String()
}
