package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return c.globals.withStore(c.executeWithStore)
}

func (c *PruneCommand) executeWithStore(store *storage.SQLiteStore) error {
	ctx := context.Background()
	settings, err := store.GetSettings(ctx)
	if err != nil {
		return err
	}
	window := time.Duration(settings.RetentionPolicyMonths) * storage.RetentionMonth
	cutoff := time.Now().Add(-window)

	var count int64
	if c.DryRun {
		rows, err := store.RawQuery(ctx, fmt.Sprintf(
			"SELECT COUNT(1) AS n FROM session WHERE startedAt < '%s'", storage.FormatTime(cutoff)))
		if err != nil {
			return fmt.Errorf("count expired sessions: %w", err)
		}
		if len(rows) == 1 {
			if n, ok := rows[0]["n"].(int64); ok {
				count = n
			}
		}
	} else {
		count, err = store.ApplyRetentionPolicy(ctx)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"dry_run":  c.DryRun,
			"sessions": count,
			"cutoff":   cutoff.UTC().Format(time.RFC3339),
		})
	}

	verb := "Pruned"
	if c.DryRun {
		verb = "Would prune"
	}
	fmt.Printf("%s %s sessions older than %s (before %s)\n",
		verb, formatNumber(count), formatDurationHuman(window), cutoff.Local().Format("2006-01-02"))
	return nil
}
