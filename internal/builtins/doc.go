// Package builtins provides the tool surface as builtin packs.
//
// # Tool Packs
//
// Workspace Pack (builtin:workspace) - requires "workspace" capability:
//
//   - read: Read a text file window or an image
//   - read_json: Read and parse a JSON file
//   - write: Write or append to a file
//   - edit: Apply sequential find/replace edits
//   - ls: List directory entries
//   - grep: Regex search over files
//   - find: Glob search for paths
//
// Exec Pack (builtin:exec) - requires "exec" capability:
//
//   - exec: Run a shell command in the workspace
//
// Outputs Pack (builtin:outputs) - requires "workspace" capability:
//
//   - write_output: Write a date-prefixed result file under ~/outputs
//
// Memory Pack (builtin:memory) - requires "memory" capability:
//
//   - memory_search: BM25 search over the caller's nodes
//   - memory_node_read: Read a node, or the root listing
//   - memory_node_write: Create or update a node
//   - memory_node_append: Append to a node's content
//
// Control Pack (builtin:control) - no capability:
//
//   - skip: End the current turn without output
//
// # Registration
//
//	builtins.RegisterAll(registry, builtins.Deps{Sandbox: sb, Memory: mem})
//
// # Tool Implementation
//
// Each handler decodes its JSON input strictly (unknown fields are an
// error) and returns a JSON object whose "summary" field is the text a
// caller prints. Failures are returned as errors; the router turns them
// into error results.
package builtins
