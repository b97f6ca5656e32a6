// ABOUTME: URL tokens for MCP clients that cannot send an Authorization header.
// ABOUTME: Each token stands for one caller; static ones come from config.

package mcp

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/config"
	"github.com/2389/coven-toolhost/internal/packs"
)

// TokenStore maps URL tokens to callers.
type TokenStore struct {
	mu      sync.RWMutex
	callers map[string]packs.Caller
}

// NewTokenStore seeds a store with the mcp.tokens entries from config.
func NewTokenStore(static []config.MCPToken) *TokenStore {
	s := &TokenStore{callers: make(map[string]packs.Caller, len(static))}
	for _, t := range static {
		s.callers[t.Token] = newCaller(t.UserID, t.Capabilities)
	}
	return s
}

// Mint issues a random token for caller.
func (s *TokenStore) Mint(caller packs.Caller) string {
	token := uuid.New().String()
	s.mu.Lock()
	s.callers[token] = newCaller(caller.UserID, caller.Capabilities)
	s.mu.Unlock()
	return token
}

// Lookup returns a copy of the caller behind token.
func (s *TokenStore) Lookup(token string) (packs.Caller, bool) {
	s.mu.RLock()
	c, ok := s.callers[token]
	s.mu.RUnlock()
	if !ok {
		return packs.Caller{}, false
	}
	return newCaller(c.UserID, c.Capabilities), true
}

// Revoke forgets token and reports whether it existed. Open sessions keep
// the caller they were initialized with.
func (s *TokenStore) Revoke(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.callers[token]
	delete(s.callers, token)
	return ok
}

// Len returns the number of live tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.callers)
}

func newCaller(userID string, capabilities []string) packs.Caller {
	caps := slices.Clone(capabilities)
	if caps == nil {
		caps = []string{}
	}
	return packs.Caller{UserID: userID, Capabilities: caps}
}
