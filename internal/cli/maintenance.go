package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for ExportCommand.
func (c *ExportCommand) Execute(args []string) error {
	if c.Path == "" {
		return fmt.Errorf("--path is required for export command")
	}
	return c.globals.withStore(c.executeWithStore)
}

func (c *ExportCommand) executeWithStore(store *storage.SQLiteStore) error {
	path, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	if err := store.ExportTo(context.Background(), path); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if c.globals.JSON {
		return writeJSON(os.Stdout, map[string]any{"path": path})
	}
	fmt.Printf("Exported database to %s\n", path)
	return nil
}

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	if c.Path == "" {
		return fmt.Errorf("--path is required for import command")
	}
	return c.globals.withStore(c.executeWithStore)
}

func (c *ImportCommand) executeWithStore(store *storage.SQLiteStore) error {
	ctx := context.Background()
	if err := store.ImportFrom(ctx, c.Path); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	if c.globals.JSON {
		return writeJSON(os.Stdout, map[string]any{"path": c.Path, "sessions": stats.TotalSessions})
	}
	fmt.Printf("Imported %s sessions from %s\n", formatNumber(stats.TotalSessions), c.Path)
	return nil
}

// Execute implements the go-flags Commander interface for ReindexCommand.
func (c *ReindexCommand) Execute(args []string) error {
	return c.globals.withStore(c.executeWithStore)
}

func (c *ReindexCommand) executeWithStore(store *storage.SQLiteStore) error {
	if err := store.RegenerateIndex(context.Background()); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	if c.globals.JSON {
		return writeJSON(os.Stdout, map[string]any{"reindexed": true})
	}
	fmt.Println("Rebuilt search indexes")
	return nil
}
