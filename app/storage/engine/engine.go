// Package engine provides the database connection for the detections journal.
// Sqlite is the only supported backend, the wrapper sets the pragmas the
// journal workload needs and hands out a lock matching the engine's
// concurrency abilities.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown Type = ""
	Sqlite  Type = "sqlite"
)

// SQL is a wrapper for sqlx.DB with the engine type
type SQL struct {
	sqlx.DB
	dbType Type
}

// NewSqlite opens a sqlite database and prepares it for concurrent use
func NewSqlite(file string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return &SQL{}, fmt.Errorf("failed to connect to sqlite database %q: %w", file, err)
	}
	if err := setSqlitePragma(db); err != nil {
		return &SQL{}, fmt.Errorf("failed to set pragmas for %q: %w", file, err)
	}
	return &SQL{DB: *db, dbType: Sqlite}, nil
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// MakeLock creates a lock for the database engine. Sqlite serializes writers
// itself but reports busy errors under contention, a process-level mutex
// avoids them. Other engines get the no-op flavor.
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex)
	}
	return &NoopLocker{}
}

// RWLocker is a read-write locker, implemented by sync.RWMutex and NoopLocker
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NoopLocker is a no-op locker for engines handling concurrent writes natively
type NoopLocker struct{}

// Lock does nothing
func (NoopLocker) Lock() {}

// Unlock does nothing
func (NoopLocker) Unlock() {}

// RLock does nothing
func (NoopLocker) RLock() {}

// RUnlock does nothing
func (NoopLocker) RUnlock() {}

// setSqlitePragma prepares sqlite for the journal workload, WAL keeps readers
// unblocked while writes land
func setSqlitePragma(db *sqlx.DB) error {
	pragmas := map[string]string{
		"journal_mode": "WAL",
		"synchronous":  "NORMAL",
		"busy_timeout": "5000",
		"foreign_keys": "ON",
	}
	for name, value := range pragmas {
		if _, err := db.Exec("PRAGMA " + name + " = " + value); err != nil {
			return fmt.Errorf("can't set pragma %s=%s: %w", name, value, err)
		}
	}
	return nil
}

// InitTable creates a table with its indexes in a single transaction unless it
// exists already
func InitTable(ctx context.Context, db *SQL, tableName, schema string, indexes ...string) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName)
	if err != nil {
		return fmt.Errorf("failed to check for %s table existence: %w", tableName, err)
	}

	if exists == 0 {
		if _, err = tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		for _, idx := range indexes {
			if _, err = tx.ExecContext(ctx, idx); err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
