// Package sandbox confines the workspace and exec tools to a set of
// directories.
//
// # Paths
//
// Tool paths may be absolute, relative to the working dir, or start with
// "~" for the sandbox home. A leading "@" is ignored. Every path is resolved
// through symlinks before the containment check, so a link pointing outside
// the sandbox is rejected even when the link itself lives inside it.
//
//	home        always readable and writable
//	working dir readable, default cwd for exec
//	write dirs  readable and writable
//	read dirs   readable only
//
// # Output limits
//
// Read stops at ReadMaxLines lines or ReadMaxBytes bytes and appends a
// continuation notice naming the next offset. Grep and Find cap their
// output at SearchMaxOutputBytes. Exec keeps at most ExecMaxOutputBytes per
// stream, and ExecResult.Text keeps the tail.
package sandbox
