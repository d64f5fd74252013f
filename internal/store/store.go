// Package store persists runs, per-frame statistics and bandwidth snapshots
// in SQLite. The schema is managed by embedded golang-migrate migrations.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/bgsub/internal/monitoring"
	"github.com/banshee-data/bgsub/internal/timeutil"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("store: not found")

// DB wraps the SQLite handle used by every store operation.
type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock
	log   monitoring.Logger
}

// pragmas are applied to every connection opened by OpenDB.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// OpenDB opens path and applies the connection PRAGMAs without touching
// the schema. The migrate subcommand uses it directly.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps per-connection PRAGMAs such as foreign_keys
	// in effect for every statement.
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return &DB{DB: sqlDB, path: path, clock: timeutil.RealClock{}, log: monitoring.Nop()}, nil
}

// NewDB opens path and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SetLogger routes migration and maintenance messages to l.
func (db *DB) SetLogger(l monitoring.Logger) { db.log = monitoring.OrNop(l) }

// SetClock overrides the clock used for timestamps.
func (db *DB) SetClock(c timeutil.Clock) {
	if c == nil {
		c = timeutil.RealClock{}
	}
	db.clock = c
}

// Path is the file the database was opened from.
func (db *DB) Path() string { return db.path }

// retryOnBusy retries fn a few times while SQLite reports a locked
// database. busy_timeout covers most contention; this handles the
// remaining SQLITE_BUSY returned on WAL checkpoints.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// TableStats is the row count of one application table.
type TableStats struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// DatabaseStats summarises the database for the admin routes.
type DatabaseStats struct {
	Path          string       `json:"path"`
	SchemaVersion uint         `json:"schema_version"`
	Dirty         bool         `json:"dirty"`
	Tables        []TableStats `json:"tables"`
}

var statTables = []string{"runs", "frame_stats", "bandwidth_snapshots"}

// GetDatabaseStats counts the rows of every application table.
func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return nil, err
	}
	stats := &DatabaseStats{Path: db.path, SchemaVersion: version, Dirty: dirty}
	for _, table := range statTables {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats.Tables = append(stats.Tables, TableStats{Name: table, RowCount: n})
	}
	return stats, nil
}
