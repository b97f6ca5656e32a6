// Package mcp exposes the builtin tools over the Model Context Protocol.
//
// The server implements the Streamable HTTP transport on a single
// endpoint:
//
//   - POST /mcp - JSON-RPC requests (initialize, ping, tools/list, tools/call)
//   - DELETE /mcp - end a session
//
// # Authentication
//
// initialize resolves the caller, in order, from a token in the path
// (/mcp/<token>), a token query parameter, or a bearer JWT:
//
//	Authorization: Bearer <jwt>
//
// Path and query tokens come from mcp.tokens in the config and bind a
// user id and capability set. When auth is optional and nothing is sent,
// the configured default user and capabilities apply. The caller is fixed
// for the session named by the Mcp-Session-Id response header.
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "memory_search",
//	    "arguments": {"query": "standup notes"}
//	  },
//	  "id": 2
//	}
//
// The text content of a result is the tool's summary; the full output
// object is returned as structuredContent. Tool failures are results
// with isError set, while unknown tools and missing capabilities are
// JSON-RPC errors.
package mcp
