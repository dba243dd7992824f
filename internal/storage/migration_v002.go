package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/runnerr0/trail/internal/fts"
)

// migrateV002 builds both full-text indexes over the session table.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	for _, ix := range fts.SessionIndexes() {
		for _, stmt := range ix.Create() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", ix.Table, err)
			}
		}
	}
	return nil
}
