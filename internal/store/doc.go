// Package store provides persistent storage for the toolhost using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - MemoryStore: Memory graph nodes and their archived versions
//   - TaskStore: Heartbeat and cron tasks
//   - RunStore: Turn run records
//
// SQLiteStore implements all interfaces in a single struct, and Store
// composes them.
//
// # Data Models
//
//   - MemoryNode: A titled markdown node with refs to other nodes, scoped by user
//   - MemoryNodeVersion: Earlier state of a node, written when content changes
//   - HeartbeatTask: Block source run on every heartbeat interval
//   - CronTask: Block source run on a cron schedule, optionally once
//   - TurnRun: Outcome of a heartbeat, cron or ad-hoc block run
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 text in UTC. Node refs are a JSON array.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicate: An entity with that id already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//	// s implements Store
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
//
// # Migrations
//
// createSchema is idempotent. runMigrations adds columns missing from
// databases created by older builds, checking pragma_table_info first.
package store
