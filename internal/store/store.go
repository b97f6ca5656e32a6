// ABOUTME: Store interfaces and data types for toolhost persistence
// ABOUTME: Defines memory nodes, scheduled tasks and turn run records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose id is already taken
var ErrDuplicate = errors.New("already exists")

// MemoryNode is one node of a user's memory graph.
type MemoryNode struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Content     string
	Refs        []string
	Version     int
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MemoryNodeVersion is an archived earlier state of a node.
type MemoryNodeVersion struct {
	NodeID            string
	UserID            string
	Version           int
	Title             string
	Description       string
	Content           string
	Refs              []string
	ContentHash       string
	ChangeDescription string
	CreatedAt         time.Time
}

// HeartbeatTask is a block run on every heartbeat interval.
type HeartbeatTask struct {
	ID     string
	UserID string
	Title  string
	Block  string
	// Capabilities are the creator's capabilities when the task was added.
	// Turns never run with more than these.
	Capabilities []string
	LastRunAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CronTask is a block run on a cron schedule.
type CronTask struct {
	ID             string
	UserID         string
	Name           string
	Description    string
	Schedule       string
	Timezone       string
	Block          string
	Enabled        bool
	DeleteAfterRun bool
	Capabilities   []string
	LastRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Turn run kinds
const (
	RunKindHeartbeat = "heartbeat"
	RunKindCron      = "cron"
	RunKindBlock     = "block"
)

// Turn run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusSkipped   = "skipped"
	RunStatusFailed    = "failed"
)

// TurnRun records one execution of a block.
type TurnRun struct {
	ID            string
	UserID        string
	Kind          string
	TaskID        string
	Status        string
	Output        string
	Error         string
	ToolCallCount int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// RunFilter narrows ListTurnRuns. Empty fields match everything.
type RunFilter struct {
	UserID string
	Kind   string
	TaskID string
	Limit  int
}

// MemoryStore persists memory graph nodes per user.
type MemoryStore interface {
	GetMemoryNode(ctx context.Context, userID, id string) (*MemoryNode, error)
	ListMemoryNodes(ctx context.Context, userID string) ([]*MemoryNode, error)
	// SaveMemoryNodes upserts nodes and inserts versions in one transaction.
	SaveMemoryNodes(ctx context.Context, userID string, nodes []*MemoryNode, versions []*MemoryNodeVersion) error
	ListMemoryNodeVersions(ctx context.Context, userID, nodeID string) ([]*MemoryNodeVersion, error)
}

// TaskStore persists heartbeat and cron tasks.
type TaskStore interface {
	CreateHeartbeatTask(ctx context.Context, task *HeartbeatTask) error
	GetHeartbeatTask(ctx context.Context, id string) (*HeartbeatTask, error)
	// ListHeartbeatTasks returns tasks for userID, or all tasks when userID is empty.
	ListHeartbeatTasks(ctx context.Context, userID string) ([]*HeartbeatTask, error)
	DeleteHeartbeatTask(ctx context.Context, id string) error
	MarkHeartbeatRun(ctx context.Context, id string, at time.Time) error

	CreateCronTask(ctx context.Context, task *CronTask) error
	GetCronTask(ctx context.Context, id string) (*CronTask, error)
	// ListCronTasks returns tasks for userID, or all tasks when userID is empty.
	ListCronTasks(ctx context.Context, userID string) ([]*CronTask, error)
	DeleteCronTask(ctx context.Context, id string) error
	MarkCronRun(ctx context.Context, id string, at time.Time) error
}

// RunStore records turn runs.
type RunStore interface {
	CreateTurnRun(ctx context.Context, run *TurnRun) error
	ListTurnRuns(ctx context.Context, filter RunFilter) ([]*TurnRun, error)
}

// Store combines every persistence interface.
type Store interface {
	MemoryStore
	TaskStore
	RunStore
	Close() error
}
