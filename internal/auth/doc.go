// Package auth provides authentication for the toolhost HTTP and MCP surfaces.
//
// # Tokens
//
// Callers authenticate with HS256 JWTs signed with auth.jwt_secret:
//
//   - sub: the user id that owns memory nodes, tasks and runs
//   - caps: list of tool capabilities ("workspace", "exec", "memory", "*")
//   - exp/iat: standard expiry claims
//
// Secrets shorter than MinSecretLength are rejected at startup.
//
// # Middleware
//
// HTTPAuthMiddleware verifies the bearer token and stores an AuthContext
// on the request context. When no secret is configured the host installs
// StaticAuthMiddleware instead, which attaches auth.default_user and
// auth.default_capabilities to every request.
//
// RequireCapabilityHTTP gates individual routes:
//
//	mux.Handle("/api/memory", auth.RequireCapabilityHTTP("memory")(h))
//
// # Context
//
//	authCtx := auth.FromContext(r.Context())
//	if authCtx == nil {
//	    // unauthenticated
//	}
package auth
