// ABOUTME: Thread-safe registry for builtin tool packs and their tools.
// ABOUTME: Manages pack registration, tool lookup, and capability-based filtering.

package packs

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrPackAlreadyRegistered indicates a pack with the same ID is already registered.
var ErrPackAlreadyRegistered = errors.New("pack already registered")

// ErrToolCollision indicates a tool name already exists from another pack.
var ErrToolCollision = errors.New("tool name collision")

// Registry maintains the registered builtin packs and their tools.
type Registry struct {
	mu       sync.RWMutex
	packs    map[string]struct{}
	builtins map[string]*builtinEntry // builtin tool name -> builtin entry
	logger   *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		packs:    make(map[string]struct{}),
		builtins: make(map[string]*builtinEntry),
		logger:   logger.With("component", "packs"),
	}
}

// RegisterBuiltinPack registers a pack of built-in tools that execute in-process.
// Returns error if the pack ID is taken or any tool name collides with existing tools.
func (r *Registry) RegisterBuiltinPack(pack *BuiltinPack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.packs[pack.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPackAlreadyRegistered, pack.ID)
	}

	// Check for collisions, including within the pack itself
	seen := make(map[string]struct{}, len(pack.Tools))
	for _, tool := range pack.Tools {
		name := tool.Definition.Name
		if entry, exists := r.builtins[name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'", ErrToolCollision, name, entry.PackID)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: tool '%s' appears twice in pack '%s'", ErrToolCollision, name, pack.ID)
		}
		seen[name] = struct{}{}
	}

	for _, tool := range pack.Tools {
		r.builtins[tool.Definition.Name] = &builtinEntry{
			Tool:   tool,
			PackID: pack.ID,
		}
	}
	r.packs[pack.ID] = struct{}{}

	r.logger.Info("=== BUILTIN PACK REGISTERED ===",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
		"total_tools", len(r.builtins),
	)

	return nil
}

// GetBuiltinTool returns a builtin tool by name, or nil if not found.
func (r *Registry) GetBuiltinTool(name string) *BuiltinTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.builtins[name]; ok {
		return entry.Tool
	}
	return nil
}

// IsBuiltin returns true if the tool name is a builtin tool.
func (r *Registry) IsBuiltin(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builtins[name]
	return ok
}

// BuiltinPackInfo contains information about a registered builtin pack for display.
type BuiltinPackInfo struct {
	ID    string
	Tools []*BuiltinTool
}

// ListBuiltinPacks returns all registered builtin packs sorted by ID, with
// tools sorted by name.
func (r *Registry) ListBuiltinPacks() []BuiltinPackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Group tools by pack ID
	packTools := make(map[string][]*BuiltinTool)
	for id := range r.packs {
		packTools[id] = nil
	}
	for _, entry := range r.builtins {
		packTools[entry.PackID] = append(packTools[entry.PackID], entry.Tool)
	}

	result := make([]BuiltinPackInfo, 0, len(packTools))
	for packID, tools := range packTools {
		sortTools(tools)
		result = append(result, BuiltinPackInfo{
			ID:    packID,
			Tools: tools,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AllTools returns every registered tool definition sorted by name.
func (r *Registry) AllTools() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ToolDefinition, 0, len(r.builtins))
	for _, entry := range r.builtins {
		result = append(result, entry.Tool.Definition)
	}
	sortDefinitions(result)
	return result
}

// GetToolsForCapabilities returns tools where the caller has ALL required capabilities.
// If a tool has no required capabilities, it is always included. Sorted by name.
func (r *Registry) GetToolsForCapabilities(caps []string) []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Build a set of caller capabilities for fast lookup
	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}

	var result []*ToolDefinition
	for _, entry := range r.builtins {
		if hasAllCapabilities(entry.Tool.Definition.RequiredCapabilities, capSet) {
			result = append(result, entry.Tool.Definition)
		}
	}
	sortDefinitions(result)
	return result
}

// Close clears the registry. This should be called during graceful shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	builtinCount := len(r.builtins)
	r.packs = make(map[string]struct{})
	r.builtins = make(map[string]*builtinEntry)

	r.logger.Info("registry closed", "builtins_cleared", builtinCount)
}

// hasAllCapabilities checks if the capability set contains all required capabilities.
func hasAllCapabilities(required []string, capSet map[string]struct{}) bool {
	if _, all := capSet[WildcardCapability]; all {
		return true
	}
	for _, req := range required {
		if _, has := capSet[req]; !has {
			return false
		}
	}
	return true
}

// missingCapabilities lists the required capabilities the caller lacks.
func missingCapabilities(required, caps []string) []string {
	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	if _, all := capSet[WildcardCapability]; all {
		return nil
	}
	var missing []string
	for _, req := range required {
		if _, has := capSet[req]; !has {
			missing = append(missing, req)
		}
	}
	return missing
}

func sortDefinitions(defs []*ToolDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
}

func sortTools(tools []*BuiltinTool) {
	sort.Slice(tools, func(i, j int) bool { return tools[i].Definition.Name < tools[j].Definition.Name })
}
