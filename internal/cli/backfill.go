package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/trail/internal/crawler"
	"github.com/runnerr0/trail/internal/kv"
	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for BackfillCommand.
func (c *BackfillCommand) Execute(args []string) error {
	cfg := c.globals.loadConfig()
	if c.source == nil {
		path := c.History
		if path == "" {
			path = cfg.Crawler.HistoryPath
		}
		if path == "" {
			return fmt.Errorf("--history is required when crawler.history_path is not configured")
		}
		h, err := crawler.OpenChromeHistory(path)
		if err != nil {
			return err
		}
		defer h.Close()
		c.source = h
	}

	stateDir, err := cfg.StateDir()
	if err != nil {
		return err
	}
	state, err := kv.Open(kv.Config{Path: stateDir, Logger: c.globals.logger()})
	if err != nil {
		return fmt.Errorf("%w (is the daemon running? stop it or use its crawler)", err)
	}
	defer state.Close()

	return c.globals.withStore(func(store *storage.SQLiteStore) error {
		return c.executeWithStores(store, state)
	})
}

func (c *BackfillCommand) executeWithStores(store *storage.SQLiteStore, state kv.Store) error {
	cfg := c.globals.loadConfig()
	cr := crawler.New(c.source, store, state, crawler.Config{
		Interval:          time.Duration(cfg.Crawler.IntervalHours) * time.Hour,
		Floor:             time.Duration(cfg.Crawler.FloorSeconds) * time.Second,
		MaxResults:        cfg.Crawler.MaxResults,
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
	}, c.globals.logger())

	ctx := context.Background()
	if c.Reset {
		if err := cr.Reset(ctx); err != nil {
			return fmt.Errorf("reset crawl state: %w", err)
		}
	}

	report, err := cr.Crawl(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, report)
	}
	fmt.Printf("Imported %s sessions from %s visits in %d windows\n",
		formatNumber(int64(report.Created)), formatNumber(int64(report.Visits)), report.Windows)
	if report.Fixed > 0 {
		fmt.Printf("Linked %s sessions to their parents\n", formatNumber(report.Fixed))
	}
	fmt.Printf("History crawled up to %s\n", report.State.StartTimestamp.Local().Format("2006-01-02 15:04"))
	return nil
}
