// Package sqlite implements the local ledger on an embedded SQLite database.
//
// The database runs in WAL mode behind a single connection, which serializes
// every mutation. Status writes from the sync coordinator are checked against
// the record revision inside a transaction, so a domain edit that lands while
// a remote call is in flight is never overwritten.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - initial ledger with retry bookkeeping and revisions
const currentSchemaVersion = 1

// Ledger is a ports.Ledger backed by SQLite.
type Ledger struct {
	db   *sql.DB
	path string

	now   func() time.Time
	newID func() string

	// mu guards last, the most recent last_modified handed out.
	mu   sync.Mutex
	last time.Time
}

var _ ports.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithRequestIDs overrides the generator for idempotency keys.
func WithRequestIDs(newID func() string) Option {
	return func(l *Ledger) {
		l.newID = newID
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens the ledger database at path, applying the schema.
// Use ":memory:" for a throwaway ledger.
func Open(path string, opts ...Option) (*Ledger, error) {
	dsn := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	l := &Ledger{
		db:    db,
		path:  path,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.applySchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	if err := l.loadLastModified(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database path the ledger was opened with.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) applySchema() error {
	if _, err := l.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	err := l.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = l.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > currentSchemaVersion:
		return fmt.Errorf("ledger schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

// loadLastModified seeds the monotonic clock from the stored records so that
// ordering survives restarts and wall clock steps.
func (l *Ledger) loadLastModified() error {
	var last sql.NullInt64
	err := l.db.QueryRow(`
		SELECT MAX(m) FROM (
			SELECT MAX(last_modified) AS m FROM users
			UNION ALL SELECT MAX(last_modified) FROM sessions
			UNION ALL SELECT MAX(last_modified) FROM case_attempts
			UNION ALL SELECT MAX(last_modified) FROM learner_actions
		)`).Scan(&last)
	if err != nil {
		return fmt.Errorf("read last modification time: %w", err)
	}
	if last.Valid {
		l.last = fromNanos(last.Int64)
	}
	return nil
}

// stamp returns a modification time strictly after every earlier one.
func (l *Ledger) stamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now().UTC()
	if !t.After(l.last) {
		t = l.last.Add(time.Nanosecond)
	}
	l.last = t
	return t
}

// inTx runs fn in a transaction, committing on success.
func (l *Ledger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Wipe deletes every record, children first.
func (l *Ledger) Wipe(ctx context.Context) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"learner_actions", "case_attempts", "sessions", "users"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		return nil
	})
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(kind domain.Kind, id int64) error {
	return fmt.Errorf("%s/%d: %w", kind, id, domain.ErrNotFound)
}
