package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/fts"
)

// RetentionMonth is the month length used by the retention policy.
const RetentionMonth = 30 * 24 * time.Hour

// ApplyRetentionPolicy deletes sessions that started before the configured
// retention window and returns how many were removed.
func (s *SQLiteStore) ApplyRetentionPolicy(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		st, err := s.settings(ctx, tx)
		if err != nil {
			return err
		}
		cutoff := s.now().Add(-time.Duration(st.RetentionPolicyMonths) * RetentionMonth)

		res, err := tx.ExecContext(ctx, "DELETE FROM session WHERE startedAt < ?", FormatTime(cutoff))
		if err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}
		return s.audit(ctx, tx, "retention",
			fmt.Sprintf("deleted %d sessions started before %s", deleted, FormatTime(cutoff)))
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// RegenerateIndex drops and rebuilds both full-text indexes in one
// transaction.
func (s *SQLiteStore) RegenerateIndex(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ix := range fts.SessionIndexes() {
			for _, stmt := range ix.Drop() {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("drop %s: %w", ix.Table, err)
				}
			}
			if err := apperr.CheckAbort(ctx); err != nil {
				return err
			}
			for _, stmt := range ix.Create() {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create %s: %w", ix.Table, err)
				}
			}
			if err := apperr.CheckAbort(ctx); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, "reindex", "rebuilt session indexes")
	})
}

// ExportTo writes a compacted copy of the database to path, which must
// not exist.
func (s *SQLiteStore) ExportTo(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return apperr.Validation("export target %s already exists", path)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("export database: %w", err)
	}
	return nil
}

// ImportFrom replaces all sessions and settings with those of the database
// at path. The full-text indexes follow through their triggers.
func (s *SQLiteStore) ImportFrom(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return apperr.Validation("import source: %v", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS src", path); err != nil {
		return fmt.Errorf("attach import: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE src") //nolint:errcheck

	tables, err := importTables(ctx, conn)
	if err != nil {
		return err
	}
	if !tables["session"] {
		return apperr.Validation("import source has no session table")
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cols := SessionSelect("")
	if _, err := tx.ExecContext(ctx, "DELETE FROM main.session"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if err := apperr.CheckAbort(ctx); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "INSERT INTO main.session ("+cols+") SELECT "+cols+" FROM src.session")
	if err != nil {
		return fmt.Errorf("copy sessions: %w", err)
	}
	imported, _ := res.RowsAffected()
	if err := apperr.CheckAbort(ctx); err != nil {
		return err
	}

	if tables["settings"] {
		if _, err := tx.ExecContext(ctx, "DELETE FROM main.settings"); err != nil {
			return fmt.Errorf("clear settings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO main.settings ("+settingsColumns+") SELECT "+settingsColumns+" FROM src.settings",
		); err != nil {
			return fmt.Errorf("copy settings: %w", err)
		}
	}

	if err := s.audit(ctx, tx, "import", fmt.Sprintf("imported %d sessions", imported)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("imported database", "sessions", imported)
	return nil
}

func importTables(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM src.sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("read import schema: %w", err)
	}
	defer rows.Close()
	tables := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[name] = true
	}
	return tables, rows.Err()
}

// PurgeAll deletes every session and returns how many were removed.
// Settings are kept.
func (s *SQLiteStore) PurgeAll(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM session")
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		return s.audit(ctx, tx, "purge", fmt.Sprintf("deleted %d sessions", deleted))
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TopHosts: []HostCount{}, RecentAudit: []AuditEntry{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(endedAt IS NULL AND tabId != ?), 0),
		       COALESCE(SUM(tabId = ?), 0)
		FROM session`, GhostTabID, GhostTabID,
	).Scan(&stats.TotalSessions, &stats.OpenSessions, &stats.GhostSessions)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	if stats.TotalSessions > 0 {
		var oldest, newest nullTime
		err = s.db.QueryRowContext(ctx, "SELECT MIN(startedAt), MAX(startedAt) FROM session").Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("session time range: %w", err)
		}
		stats.OldestSession, stats.NewestSession = oldest.ptr(), newest.ptr()
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
	).Scan(&stats.DatabaseSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("database size: %w", err)
	}

	if stats.TopHosts, err = s.topHosts(ctx, 10); err != nil {
		return nil, err
	}
	if stats.RecentAudit, err = s.recentAudit(ctx, 10); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) topHosts(ctx context.Context, limit int) ([]HostCount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT host, COUNT(*) AS cnt FROM session GROUP BY host ORDER BY cnt DESC, host ASC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top hosts: %w", err)
	}
	defer rows.Close()

	hosts := []HostCount{}
	for rows.Next() {
		var hc HostCount
		if err := rows.Scan(&hc.Host, &hc.Count); err != nil {
			return nil, err
		}
		hosts = append(hosts, hc)
	}
	return hosts, rows.Err()
}

func (s *SQLiteStore) recentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, action, detail, ts FROM audit_log ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var ts nullTime
		if err := rows.Scan(&e.ID, &e.Action, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.TS = ts.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RawQuery runs a statement and returns its rows as column maps. Text
// stored as bytes is returned as strings.
func (s *SQLiteStore) RawQuery(ctx context.Context, query string) ([]map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("empty query")
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
