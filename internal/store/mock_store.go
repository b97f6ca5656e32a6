// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	nodes      map[string]*MemoryNode           // keyed by "userID:nodeID"
	versions   map[string][]*MemoryNodeVersion  // keyed by "userID:nodeID"
	heartbeats map[string]*HeartbeatTask        // keyed by task ID
	crons      map[string]*CronTask             // keyed by task ID
	runs       []*TurnRun                       // append order
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		nodes:      make(map[string]*MemoryNode),
		versions:   make(map[string][]*MemoryNodeVersion),
		heartbeats: make(map[string]*HeartbeatTask),
		crons:      make(map[string]*CronTask),
	}
}

func nodeKey(userID, id string) string {
	return userID + ":" + id
}

func copyNode(n *MemoryNode) *MemoryNode {
	c := *n
	c.Refs = append([]string(nil), n.Refs...)
	return &c
}

// GetMemoryNode retrieves a node by id.
func (m *MockStore) GetMemoryNode(ctx context.Context, userID, id string) (*MemoryNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[nodeKey(userID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyNode(n), nil
}

// ListMemoryNodes returns a user's nodes in creation order.
func (m *MockStore) ListMemoryNodes(ctx context.Context, userID string) ([]*MemoryNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*MemoryNode
	for _, n := range m.nodes {
		if n.UserID == userID {
			result = append(result, copyNode(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SaveMemoryNodes upserts nodes and appends versions atomically.
func (m *MockStore) SaveMemoryNodes(ctx context.Context, userID string, nodes []*MemoryNode, versions []*MemoryNodeVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range versions {
		for _, existing := range m.versions[nodeKey(userID, v.NodeID)] {
			if existing.Version == v.Version {
				return fmt.Errorf("version %d of %s: %w", v.Version, v.NodeID, ErrDuplicate)
			}
		}
	}

	for _, n := range nodes {
		c := copyNode(n)
		c.UserID = userID
		if prev, ok := m.nodes[nodeKey(userID, n.ID)]; ok {
			c.CreatedAt = prev.CreatedAt
		}
		m.nodes[nodeKey(userID, n.ID)] = c
	}
	for _, v := range versions {
		c := *v
		c.UserID = userID
		c.Refs = append([]string(nil), v.Refs...)
		key := nodeKey(userID, v.NodeID)
		m.versions[key] = append(m.versions[key], &c)
	}
	return nil
}

// ListMemoryNodeVersions returns archived versions, oldest first.
func (m *MockStore) ListMemoryNodeVersions(ctx context.Context, userID, nodeID string) ([]*MemoryNodeVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*MemoryNodeVersion
	for _, v := range m.versions[nodeKey(userID, nodeID)] {
		c := *v
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

// CreateHeartbeatTask stores a heartbeat task.
func (m *MockStore) CreateHeartbeatTask(ctx context.Context, task *HeartbeatTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.heartbeats[task.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	t := *task
	m.heartbeats[t.ID] = &t
	return nil
}

// GetHeartbeatTask retrieves a heartbeat task.
func (m *MockStore) GetHeartbeatTask(ctx context.Context, id string) (*HeartbeatTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.heartbeats[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ListHeartbeatTasks returns heartbeat tasks in creation order.
func (m *MockStore) ListHeartbeatTasks(ctx context.Context, userID string) ([]*HeartbeatTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*HeartbeatTask
	for _, t := range m.heartbeats {
		if userID == "" || t.UserID == userID {
			c := *t
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// DeleteHeartbeatTask removes a heartbeat task.
func (m *MockStore) DeleteHeartbeatTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.heartbeats[id]; !ok {
		return ErrNotFound
	}
	delete(m.heartbeats, id)
	return nil
}

// MarkHeartbeatRun records the last run time.
func (m *MockStore) MarkHeartbeatRun(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.heartbeats[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	t.LastRunAt = &at
	t.UpdatedAt = time.Now()
	return nil
}

// CreateCronTask stores a cron task.
func (m *MockStore) CreateCronTask(ctx context.Context, task *CronTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.crons[task.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	t := *task
	m.crons[t.ID] = &t
	return nil
}

// GetCronTask retrieves a cron task.
func (m *MockStore) GetCronTask(ctx context.Context, id string) (*CronTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.crons[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ListCronTasks returns cron tasks in creation order.
func (m *MockStore) ListCronTasks(ctx context.Context, userID string) ([]*CronTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*CronTask
	for _, t := range m.crons {
		if userID == "" || t.UserID == userID {
			c := *t
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// DeleteCronTask removes a cron task.
func (m *MockStore) DeleteCronTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.crons[id]; !ok {
		return ErrNotFound
	}
	delete(m.crons, id)
	return nil
}

// MarkCronRun records the last run time.
func (m *MockStore) MarkCronRun(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.crons[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	t.LastRunAt = &at
	t.UpdatedAt = time.Now()
	return nil
}

// CreateTurnRun appends a run record.
func (m *MockStore) CreateTurnRun(ctx context.Context, run *TurnRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	for _, existing := range m.runs {
		if existing.ID == run.ID {
			return fmt.Errorf("turn run %s: %w", run.ID, ErrDuplicate)
		}
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}

	r := *run
	m.runs = append(m.runs, &r)
	return nil
}

// ListTurnRuns returns matching runs, newest first.
func (m *MockStore) ListTurnRuns(ctx context.Context, filter RunFilter) ([]*TurnRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	var result []*TurnRun
	for i := len(m.runs) - 1; i >= 0 && len(result) < limit; i-- {
		r := m.runs[i]
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.TaskID != "" && r.TaskID != filter.TaskID {
			continue
		}
		c := *r
		result = append(result, &c)
	}
	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
