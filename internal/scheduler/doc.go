// ABOUTME: Package documentation for heartbeat and cron scheduling
// ABOUTME: Summarizes task kinds, turn recording and delivery

// Package scheduler runs stored blocks as scheduled turns.
//
// Heartbeat tasks run together every heartbeat interval; RunNow runs them
// on demand. Cron tasks run when their five-field schedule, evaluated in
// the task's time zone, comes due at a minute tick. One-shot cron tasks
// are deleted after firing.
//
// Every turn is recorded in turn_runs as completed, skipped or failed. A
// turn whose block called skip delivers nothing; all other turns are
// passed to the Sink.
package scheduler
