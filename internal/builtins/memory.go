// ABOUTME: Memory pack: search, read, write and append memory graph nodes.
// ABOUTME: Requires the "memory" capability. Nodes are scoped to the calling user.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/coven-toolhost/internal/memory"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/store"
)

// MemoryPack creates the memory graph tools.
func MemoryPack(svc *memory.Service) *packs.BuiltinPack {
	m := &memoryHandlers{svc: svc}
	caps := []string{CapMemory}
	return &packs.BuiltinPack{
		ID: "builtin:memory",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:                 "memory_search",
					Description:          "Search memory nodes by keywords. Ranks title matches above description and content matches.",
					InputSchemaJSON:      `{"type":"object","properties":{"query":{"type":"string","minLength":1},"limit":{"type":"integer","minimum":1,"maximum":50}},"required":["query"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: m.Search,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "memory_node_read",
					Description:          "Read a memory node by id. Omit nodeId (or pass __root__) to list the top-level nodes.",
					InputSchemaJSON:      `{"type":"object","properties":{"nodeId":{"type":"string"}},"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: m.Read,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "memory_node_write",
					Description:          "Create or update a memory node. Omit nodeId to create a new node. Parents default to the root; each parent gets a ref to this node. Pass changeDescription to keep the previous version.",
					InputSchemaJSON:      `{"type":"object","properties":{"nodeId":{"type":"string"},"title":{"type":"string","minLength":1},"description":{"type":"string"},"content":{"type":"string"},"parents":{"type":"array","items":{"type":"string"}},"refs":{"type":"array","items":{"type":"string"}},"changeDescription":{"type":"string"}},"required":["title","content"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: m.Write,
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "memory_node_append",
					Description:          "Append text to the content of an existing memory node.",
					InputSchemaJSON:      `{"type":"object","properties":{"nodeId":{"type":"string","minLength":1},"content":{"type":"string"},"changeDescription":{"type":"string"}},"required":["nodeId","content"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: m.Append,
			},
		},
	}
}

type memoryHandlers struct {
	svc *memory.Service
}

// nodeView is the tool representation of a memory node.
type nodeView struct {
	NodeID      string   `json:"nodeId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content"`
	Refs        []string `json:"refs"`
	Version     int      `json:"version"`
}

func viewOf(n *store.MemoryNode) nodeView {
	refs := n.Refs
	if refs == nil {
		refs = []string{}
	}
	return nodeView{
		NodeID:      n.ID,
		Title:       n.Title,
		Description: n.Description,
		Content:     n.Content,
		Refs:        refs,
		Version:     n.Version,
	}
}

type memorySearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type memorySearchHit struct {
	NodeID      string  `json:"nodeId"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

func (m *memoryHandlers) Search(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[memorySearchInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("query", strings.TrimSpace(in.Query)); err != nil {
		return nil, err
	}

	hits, err := m.svc.Search(ctx, caller.UserID, in.Query, in.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]memorySearchHit, len(hits))
	var b strings.Builder
	if len(hits) == 0 {
		fmt.Fprintf(&b, "No memory nodes match %q.", in.Query)
	} else {
		fmt.Fprintf(&b, "Found %d memory node(s) for %q:", len(hits), in.Query)
	}
	for i, h := range hits {
		results[i] = memorySearchHit{
			NodeID:      h.Node.ID,
			Title:       h.Node.Title,
			Description: h.Node.Description,
			Score:       h.Score,
		}
		fmt.Fprintf(&b, "\n- %s (%s)", h.Node.Title, h.Node.ID)
		if h.Node.Description != "" {
			fmt.Fprintf(&b, ": %s", h.Node.Description)
		}
	}

	return json.Marshal(map[string]any{
		"summary": b.String(),
		"action":  "memory_search",
		"results": results,
		"count":   len(results),
	})
}

type memoryReadInput struct {
	NodeID string `json:"nodeId"`
}

func (m *memoryHandlers) Read(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[memoryReadInput](input)
	if err != nil {
		return nil, err
	}

	node, err := m.svc.ReadNode(ctx, caller.UserID, in.NodeID)
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		Summary string `json:"summary"`
		Action  string `json:"action"`
		nodeView
	}{
		Summary:  formatNode(node),
		Action:   "memory_node_read",
		nodeView: viewOf(node),
	})
}

type memoryWriteInput struct {
	NodeID            string   `json:"nodeId"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Content           *string  `json:"content"`
	Parents           []string `json:"parents"`
	Refs              []string `json:"refs"`
	ChangeDescription string   `json:"changeDescription"`
}

func (m *memoryHandlers) Write(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[memoryWriteInput](input)
	if err != nil {
		return nil, err
	}
	if in.Content == nil {
		return nil, fmt.Errorf("invalid input: content is required")
	}

	res, err := m.svc.WriteNode(ctx, caller.UserID, memory.WriteInput{
		NodeID:            in.NodeID,
		Title:             in.Title,
		Description:       in.Description,
		Content:           *in.Content,
		Parents:           in.Parents,
		Refs:              in.Refs,
		ChangeDescription: in.ChangeDescription,
	})
	if err != nil {
		return nil, err
	}

	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	return json.Marshal(map[string]any{
		"summary": fmt.Sprintf("%s memory node: %s (%q)", verb, res.Node.ID, res.Node.Title),
		"action":  "memory_node_write",
		"nodeId":  res.Node.ID,
		"version": res.Node.Version,
		"created": res.Created,
	})
}

type memoryAppendInput struct {
	NodeID            string `json:"nodeId"`
	Content           string `json:"content"`
	ChangeDescription string `json:"changeDescription"`
}

func (m *memoryHandlers) Append(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
	in, err := decodeInput[memoryAppendInput](input)
	if err != nil {
		return nil, err
	}
	if err := requireString("nodeId", strings.TrimSpace(in.NodeID)); err != nil {
		return nil, err
	}

	node, err := m.svc.Append(ctx, caller.UserID, strings.TrimSpace(in.NodeID), in.Content, in.ChangeDescription)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"summary": fmt.Sprintf("Appended %d bytes to memory node: %s (%q)", len(in.Content), node.ID, node.Title),
		"action":  "memory_node_append",
		"nodeId":  node.ID,
		"version": node.Version,
	})
}

// formatNode renders a node as the text a script prints.
func formatNode(n *store.MemoryNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", n.Title)
	fmt.Fprintf(&b, "id: %s, version: %d\n", n.ID, n.Version)
	if n.Description != "" {
		fmt.Fprintf(&b, "%s\n", n.Description)
	}
	b.WriteString("\n")
	b.WriteString(n.Content)
	if n.ID != memory.RootID && len(n.Refs) > 0 {
		fmt.Fprintf(&b, "\n\nrefs: %s", strings.Join(n.Refs, ", "))
	}
	return b.String()
}
