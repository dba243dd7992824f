package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the session, settings and audit tables with their
// indexes. Every statement uses IF NOT EXISTS for idempotency.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS session (
			id                     TEXT PRIMARY KEY,
			tabId                  INTEGER NOT NULL,
			host                   TEXT NOT NULL DEFAULT '',
			url                    TEXT NOT NULL,
			rawUrl                 TEXT NOT NULL,
			title                  TEXT,
			parentSessionId        TEXT,
			nextSessionId          TEXT,
			transitionType         TEXT,
			startedAt              DATETIME NOT NULL,
			endedAt                DATETIME,
			interactionCount       INTEGER NOT NULL DEFAULT 0,
			lastInteractionAt      DATETIME,
			chromeVisitId          TEXT,
			chromeReferringVisitId TEXT,
			dum                    TEXT NOT NULL DEFAULT 'dum'
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			dataCollectionEnabled BOOLEAN NOT NULL DEFAULT 1,
			devModeEnabled        BOOLEAN NOT NULL DEFAULT 0,
			retentionPolicyMonths INTEGER NOT NULL DEFAULT 6,
			theme                 TEXT NOT NULL DEFAULT 'auto',
			createdAt             DATETIME NOT NULL,
			updatedAt             DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			ts     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_session_tab_ended      ON session(tabId, endedAt)`,
		`CREATE INDEX IF NOT EXISTS idx_session_started        ON session(startedAt)`,
		`CREATE INDEX IF NOT EXISTS idx_session_host           ON session(host)`,
		`CREATE INDEX IF NOT EXISTS idx_session_parent         ON session(parentSessionId)`,
		`CREATE INDEX IF NOT EXISTS idx_session_chrome_visit   ON session(chromeVisitId)`,
		`CREATE INDEX IF NOT EXISTS idx_session_chrome_referer ON session(chromeReferringVisitId)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_ts           ON audit_log(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_action       ON audit_log(action)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
