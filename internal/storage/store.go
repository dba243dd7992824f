// Package storage owns the session log: its schema, the session
// transitions driven by tab events, settings, ghost sessions imported from
// browser history, and maintenance such as retention and export.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store defines the session log operations used by the request handlers.
type Store interface {
	TabChanged(ctx context.Context, req TabChange) error
	TabClosed(ctx context.Context, tabID int64) error
	TabInteraction(ctx context.Context, req TabInteraction) error
	OpenSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, id string) (*SessionWithChildren, error)

	GetSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, patch SettingsPatch) (*Settings, error)

	CorrelateChromeVisit(ctx context.Context, visit ChromeVisit) error
	CreateGhostSessions(ctx context.Context, visits []GhostVisit) (int, error)
	FixChromeParents(ctx context.Context) (int64, error)

	ApplyRetentionPolicy(ctx context.Context) (int64, error)
	RegenerateIndex(ctx context.Context) error
	ExportTo(ctx context.Context, path string) error
	ImportFrom(ctx context.Context, path string) error
	PurgeAll(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*Stats, error)
	RawQuery(ctx context.Context, query string) ([]map[string]any, error)

	DB() *sql.DB
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	log    *slog.Logger
	now    func() time.Time
	policy *URLPolicy

	// Prepared statements
	getSession    *sql.Stmt
	activeForTab  *sql.Stmt
	childSessions *sql.Stmt
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.log = l }
}

// WithClock sets the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithURLPolicy sets which URLs produce sessions.
func WithURLPolicy(p *URLPolicy) Option {
	return func(s *SQLiteStore) { s.policy = p }
}

// NewSQLiteStore creates a SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		log:    slog.Default(),
		now:    time.Now,
		policy: DefaultURLPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

// Open opens the database at path with a single connection, applies
// pending migrations and returns the store. journalMode may be empty.
func Open(ctx context.Context, path, journalMode string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := NewMigrationRunner(db).WithJournalMode(journalMode).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s, err := NewSQLiteStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getSession, err = s.db.Prepare(`SELECT ` + SessionSelect("") + ` FROM session WHERE id = ?`)
	if err != nil {
		return err
	}

	s.activeForTab, err = s.db.Prepare(`
		SELECT ` + SessionSelect("") + `
		FROM session WHERE tabId = ? AND endedAt IS NULL
		ORDER BY startedAt DESC
	`)
	if err != nil {
		return err
	}

	s.childSessions, err = s.db.Prepare(`
		SELECT ` + SessionSelect("") + `
		FROM session WHERE parentSessionId = ?
		ORDER BY startedAt ASC
	`)
	if err != nil {
		return err
	}

	return nil
}

// DB exposes the underlying database for read-only query services.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close releases the prepared statements and closes the database.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.getSession, s.activeForTab, s.childSessions} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a transaction and commits when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// audit records a maintenance action.
func (s *SQLiteStore) audit(ctx context.Context, ex execer, action, detail string) error {
	_, err := ex.ExecContext(ctx,
		"INSERT INTO audit_log (action, detail, ts) VALUES (?, ?, ?)",
		action, detail, FormatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		sess, err := ScanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}
