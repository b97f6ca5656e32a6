// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
	"slices"
)

// WildcardCapability grants every capability.
const WildcardCapability = "*"

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	UserID       string   // owner of memory nodes, tasks and runs
	Capabilities []string // tool capability grants
}

// HasCapability reports whether the caller holds cap (or the wildcard).
func (a *AuthContext) HasCapability(cap string) bool {
	return slices.Contains(a.Capabilities, cap) || slices.Contains(a.Capabilities, WildcardCapability)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
