// ABOUTME: Tool definitions, handlers and caller identity for in-process tools.
// ABOUTME: Builtin packs group tools that share a capability.

package packs

import (
	"context"
	"encoding/json"
	"slices"
)

// ToolDefinition describes a tool to callers.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// InputSchemaJSON is a JSON Schema object describing the tool input.
	InputSchemaJSON      string   `json:"-"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// TimeoutSeconds overrides the router timeout when positive.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// InputSchema returns the schema as raw JSON, defaulting to an empty object schema.
func (d *ToolDefinition) InputSchema() json.RawMessage {
	if d.InputSchemaJSON == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(d.InputSchemaJSON)
}

// WildcardCapability grants every capability.
const WildcardCapability = "*"

// Caller identifies who is invoking a tool.
type Caller struct {
	UserID       string
	Capabilities []string
}

// HasCapability reports whether the caller holds cap.
func (c Caller) HasCapability(cap string) bool {
	return slices.Contains(c.Capabilities, cap) || slices.Contains(c.Capabilities, WildcardCapability)
}

// IntersectCapabilities returns the capabilities present in both a and b.
// A wildcard on one side yields the other side.
func IntersectCapabilities(a, b []string) []string {
	switch {
	case slices.Contains(a, WildcardCapability):
		return slices.Clone(b)
	case slices.Contains(b, WildcardCapability):
		return slices.Clone(a)
	}
	out := []string{}
	for _, c := range a {
		if slices.Contains(b, c) && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// ToolHandler is a function that executes a built-in tool.
// It receives the caller and the tool input as JSON.
// Returns the result as JSON or an error.
type ToolHandler func(ctx context.Context, caller Caller, input json.RawMessage) (json.RawMessage, error)

// BuiltinTool represents a tool that executes in the host process.
type BuiltinTool struct {
	Definition *ToolDefinition
	Handler    ToolHandler
}

// BuiltinPack is a collection of built-in tools with a pack ID.
type BuiltinPack struct {
	ID    string
	Tools []*BuiltinTool
}

// builtinEntry stores a builtin tool with its pack ID for registry lookup.
type builtinEntry struct {
	Tool   *BuiltinTool
	PackID string
}
