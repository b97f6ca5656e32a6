// ABOUTME: In-memory MCP sessions: the caller fixed at initialize and its owner credential.
// ABOUTME: Sessions idle past the configured timeout are dropped on the next open.

package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/packs"
)

// DefaultSessionIdle is how long an unused session survives.
const DefaultSessionIdle = 24 * time.Hour

type session struct {
	id       string
	protocol string
	caller   packs.Caller
	// owner is the credential presented at initialize; empty for anonymous sessions.
	owner    string
	lastSeen time.Time
}

type sessionTable struct {
	mu   sync.Mutex
	byID map[string]*session
	idle time.Duration
	now  func() time.Time
}

func newSessionTable(idle time.Duration, now func() time.Time) *sessionTable {
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	if now == nil {
		now = time.Now
	}
	return &sessionTable{byID: make(map[string]*session), idle: idle, now: now}
}

func (t *sessionTable) open(protocol string, caller packs.Caller, owner string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, s := range t.byID {
		if now.Sub(s.lastSeen) > t.idle {
			delete(t.byID, id)
		}
	}
	s := &session{id: uuid.New().String(), protocol: protocol, caller: caller, owner: owner, lastSeen: now}
	t.byID[s.id] = s
	return s
}

// touch returns the live session and refreshes its idle clock.
func (t *sessionTable) touch(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	now := t.now()
	if now.Sub(s.lastSeen) > t.idle {
		delete(t.byID, id)
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

func (t *sessionTable) close(id string) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
