// Package packs provides the tool pack system behind every tool call.
//
// # Overview
//
// Tool packs are collections of related tools that share a capability.
// All packs are builtin: their handlers run in the host process.
//
// # Architecture
//
// The pack system has three main components:
//
//   - Registry: Tracks all registered packs and their tools
//   - Router: Checks capabilities and runs the handler for a call
//   - Built-in packs: Host-provided tools (see internal/builtins)
//
// # Built-in Packs
//
//	builtin:workspace - read, read_json, write, edit, ls, grep, find ("workspace")
//	builtin:exec      - exec ("exec")
//	builtin:outputs   - write_output ("workspace")
//	builtin:memory    - memory_search, memory_node_read, memory_node_write ("memory")
//	builtin:control   - skip (no capability)
//
// # Tool Routing
//
// When a caller invokes a tool, the router:
//
//  1. Looks up the tool by name in the registry
//  2. Checks the caller holds every required capability
//  3. Runs the handler with a per-call timeout
//  4. Returns a ToolResult, with IsError set when the handler failed
//
// Tool names are globally unique across packs. ErrSkipTurn returned by a
// handler is passed through as a Go error so the block runner can stop.
//
// # Usage
//
//	registry := packs.NewRegistry(logger)
//	router := packs.NewRouter(packs.RouterConfig{Registry: registry, Logger: logger})
//	builtins.RegisterAll(registry, deps)
//	result, err := router.RouteToolCall(ctx, packs.ToolCall{Name: "read", Input: input})
package packs
