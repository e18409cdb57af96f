// Package store provides persistence backends for the scheduling engine.
//
// Three implementations of sched.Store are available:
//   - MemoryStore: in-memory maps, for tests and development
//   - SQLiteStore: single-file database via modernc.org/sqlite
//   - MySQLStore: production database via go-sql-driver/mysql
//
// All backends share the same data model: jobs with their endpoints,
// per-cycle execution records (plan, results, summary, status), job
// messages and endpoint usage history forwarded to the reasoner, and an
// append-only job error log.
package store

import (
	"errors"

	"github.com/dshills/schedflow/sched"
)

// ErrNotFound is returned when a requested job does not exist.
var ErrNotFound = errors.New("not found")

// Compile-time interface checks.
var (
	_ sched.Store = (*MemoryStore)(nil)
	_ sched.Store = (*SQLiteStore)(nil)
	_ sched.Store = (*MySQLStore)(nil)
)
