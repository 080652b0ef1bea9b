// Package store provides the SQLite persistence service for boards.
//
// The database runs in embedded mode with WAL. Every write runs inside a
// transaction; reorders rewrite every sibling's order so that committed
// order values are always a dense permutation 0..n-1.
//
// Architecture:
//   - Tables: boards, board_columns, cards, card_labels, card_assignees, audit_log
//   - Columns and boards carry a version counter bumped by every reorder
//   - Write conflicts (SQLITE_BUSY, version mismatch) surface as board.ErrConflict
//     and are retried with exponential backoff up to Config.MaxAttempts
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	log "github.com/sirupsen/logrus"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

// Config holds store tunables.
type Config struct {
	// MaxAttempts bounds how often a conflicting transaction is run.
	MaxAttempts int

	// RetryBase is the backoff before the second attempt. It doubles for
	// every further attempt.
	RetryBase time.Duration

	// Audit receives cross-container moves after commit. Optional.
	Audit AuditLogger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		RetryBase:   100 * time.Millisecond,
	}
}

// Store wraps the SQLite connection pool.
type Store struct {
	conn   *sql.DB
	path   string
	config *Config
	log    *log.Entry

	// beforeCommit runs inside every write transaction right before commit.
	// Tests use it to inject conflicts.
	beforeCommit func(attempt int) error
}

// Open opens the database at path with the default configuration.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig opens the database at path.
//
// Pragmas are passed through the DSN so that every pooled connection gets
// them, not only the first one.
func OpenWithConfig(path string, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{
		conn:   conn,
		path:   path,
		config: config,
		log:    log.WithField("component", "store"),
	}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.WithError(err).Warn("failed to checkpoint WAL")
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// It is idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS board_columns (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		title TEXT NOT NULL,
		position INTEGER NOT NULL,
		width INTEGER NOT NULL DEFAULT 280,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		column_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (column_id) REFERENCES board_columns(id) ON DELETE CASCADE
	);

	-- Many-to-many relations, changed by add/remove sets
	CREATE TABLE IF NOT EXISTS card_labels (
		card_id TEXT NOT NULL,
		label_id TEXT NOT NULL,
		PRIMARY KEY (card_id, label_id),
		FOREIGN KEY (card_id) REFERENCES cards(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS card_assignees (
		card_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (card_id, user_id),
		FOREIGN KEY (card_id) REFERENCES cards(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		from_container TEXT NOT NULL,
		to_container TEXT NOT NULL,
		from_order INTEGER NOT NULL,
		to_order INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_columns_board ON board_columns(board_id, position);
	CREATE INDEX IF NOT EXISTS idx_cards_column ON cards(column_id, position);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// isConflict reports whether err is a SQLite lock conflict.
func isConflict(err error) bool {
	return errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED)
}

// asConflict maps SQLite lock errors onto board.ErrConflict.
func asConflict(err error) error {
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %v", board.ErrConflict, err)
	}
	return err
}

// inTx runs fn inside a single write transaction.
func (s *Store) inTx(ctx context.Context, attempt int, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return asConflict(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return asConflict(err)
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(attempt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return asConflict(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// write runs fn in a transaction and retries it on conflict with
// exponential backoff. Any other error aborts immediately. When every
// attempt conflicted the returned error wraps board.ErrConflict.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		err = s.inTx(ctx, attempt, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, board.ErrConflict) {
			return err
		}
		if attempt == s.config.MaxAttempts {
			break
		}

		backoff := s.config.RetryBase * time.Duration(1<<(attempt-1))
		s.log.WithFields(log.Fields{"op": op, "attempt": attempt, "backoff": backoff}).Debug("write conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	s.log.WithFields(log.Fields{"op": op, "attempts": s.config.MaxAttempts}).Warn("write conflict, giving up")
	return fmt.Errorf("failed to %s after %d attempts: %w", op, s.config.MaxAttempts, err)
}

// bumpVersion increments a row's version if it still equals want.
// A changed version means a concurrent writer won.
func bumpVersion(ctx context.Context, tx *sql.Tx, table, id string, want int64) error {
	res, err := tx.ExecContext(ctx, "UPDATE "+table+" SET version = version + 1 WHERE id = ? AND version = ?", id, want)
	if err != nil {
		return fmt.Errorf("failed to bump %s version: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s changed concurrently: %w", table, id, board.ErrConflict)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
