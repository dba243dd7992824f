package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}
	return c.globals.withStore(c.executeWithStore)
}

// executeWithStore runs the add logic against a provided store (used by tests).
func (c *AddCommand) executeWithStore(store *storage.SQLiteStore) error {
	parsed, err := url.ParseRequestURI(c.URL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", c.URL)
	}
	if c.TabID == storage.GhostTabID {
		return fmt.Errorf("tab %d is reserved for sessions imported from history", storage.GhostTabID)
	}

	// The store skips denied URLs silently; the CLI user gets an explicit error.
	cfg := c.globals.loadConfig()
	policy := storage.NewURLPolicy(cfg.Capture.DenylistProtocols, cfg.DenyHosts())
	if !policy.ShouldIndex(c.URL) {
		return fmt.Errorf("URL %s is excluded by the capture denylist", c.URL)
	}

	ctx := context.Background()
	settings, err := store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if !settings.DataCollectionEnabled {
		return fmt.Errorf("data collection is disabled; enable it with 'trail settings --collection on'")
	}

	if err := store.TabChanged(ctx, storage.TabChange{
		TabID:          c.TabID,
		URL:            c.URL,
		Title:          c.Title,
		TransitionType: "typed",
	}); err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}

	session, err := openSessionForTab(ctx, store, c.TabID)
	if err != nil {
		return err
	}
	if !c.Keep {
		if err := store.TabClosed(ctx, c.TabID); err != nil {
			return fmt.Errorf("closing session: %w", err)
		}
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"id":        session.ID,
			"url":       session.URL,
			"title":     session.Title,
			"startedAt": session.StartedAt.Format(time.RFC3339),
			"open":      c.Keep,
		})
	}

	fmt.Printf("Added session %s (%s)\n", session.ID, session.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  URL: %s\n", session.URL)
	fmt.Printf("  Title: %s\n", session.Title)
	if c.Keep {
		fmt.Printf("  Tab: %d (open)\n", c.TabID)
	}
	return nil
}

func openSessionForTab(ctx context.Context, store *storage.SQLiteStore, tabID int64) (*storage.Session, error) {
	open, err := store.OpenSessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range open {
		if open[i].TabID == tabID {
			return &open[i], nil
		}
	}
	return nil, fmt.Errorf("no open session for tab %d after recording", tabID)
}
