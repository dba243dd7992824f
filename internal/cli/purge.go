package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}
	return c.globals.withStore(func(store *storage.SQLiteStore) error {
		return c.executeWithStore(store, os.Stdin)
	})
}

func (c *PurgeCommand) executeWithStore(store *storage.SQLiteStore, in io.Reader) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL trail sessions.")
		fmt.Println("  - All live browsing sessions")
		fmt.Println("  - All sessions imported from browser history")
		fmt.Println()
		fmt.Println("Settings are kept. This action cannot be undone.")
		fmt.Println()
		fmt.Print(`Type "PURGE" to confirm: `)

		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		input := strings.TrimSpace(scanner.Text())
		if input != "PURGE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	deleted, err := store.PurgeAll(context.Background())
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"purged":   true,
			"sessions": deleted,
		})
	}

	fmt.Printf("Purged %s sessions. Trail is empty.\n", formatNumber(deleted))
	return nil
}
