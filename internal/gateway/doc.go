// Package gateway wires the toolhost components together and serves them over HTTP.
//
// # Overview
//
// The Gateway owns the SQLite store, the filesystem sandbox, the memory
// service, the pack registry and router, the block runner, the scheduler,
// the MCP server and the idempotency cache. New builds all of them from a
// config.Config; Run listens on server.http_addr until the context ends.
//
// # HTTP API
//
// Health endpoints need no auth:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store reachable
//
// Every /api route runs as a caller. With auth.jwt_secret set the caller
// comes from a bearer JWT; otherwise every request is auth.default_user with
// auth.default_capabilities.
//
//   - GET /api/tools - Tools the caller's capabilities allow
//   - POST /api/tools/{name} - Run one tool; the body is its JSON input
//   - POST /api/blocks - Run a block (YAML or JSON body)
//   - GET /api/runs - Recorded block, heartbeat and cron runs
//   - GET /api/memory - Root node, or ranked search with ?q=
//   - GET /api/memory/{id} - One node as JSON, or HTML with an .html suffix
//   - GET, POST /api/heartbeats and DELETE /api/heartbeats/{id}
//   - POST /api/heartbeats/run - Run heartbeat tasks now
//   - GET, POST /api/crons and DELETE /api/crons/{id}
//
// Memory routes need the "memory" capability and task routes need
// "schedule". Tool capability checks happen in the router.
//
// # Idempotency
//
// POST /api/blocks honors an Idempotency-Key header. Keys are scoped to the
// caller. A repeated key replays the stored response with
// Idempotent-Replayed: true, and a key whose first request is still running
// gets 409. Responses with a 5xx status are not stored.
//
// # MCP
//
// With mcp.enabled the MCP Streamable HTTP endpoint is mounted at /mcp and
// /mcp/{token}. See package mcp.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger, version)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown stops the HTTP server, waits for in-flight scheduled turns and
// closes the store.
package gateway
