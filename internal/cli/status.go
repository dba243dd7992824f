package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/server"
	"github.com/runnerr0/trail/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string          `json:"version"`
	DatabasePath      string          `json:"database_path"`
	DatabaseSizeBytes int64           `json:"database_size_bytes"`
	TotalSessions     int64           `json:"total_sessions"`
	OpenSessions      int64           `json:"open_sessions"`
	GhostSessions     int64           `json:"ghost_sessions"`
	OldestSession     string          `json:"oldest_session,omitempty"`
	NewestSession     string          `json:"newest_session,omitempty"`
	RetentionMonths   int             `json:"retention_months"`
	CollectionEnabled bool            `json:"collection_enabled"`
	TopHosts          []hostCountJSON `json:"top_hosts"`
	DaemonAddr        string          `json:"daemon_addr"`
	DaemonRunning     bool            `json:"daemon_running"`
}

type hostCountJSON struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return c.globals.withStore(c.executeWithStore)
}

// executeWithStore runs status against a provided store (for testing).
func (c *StatusCommand) executeWithStore(store *storage.SQLiteStore) error {
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	settings, err := store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}

	dbPath, err := c.globals.dbPath()
	if err != nil {
		return err
	}
	cfg := c.globals.loadConfig()
	addr := cfg.Addr()
	daemonRunning := checkDaemon(ctx, "http://"+addr, cfg.Daemon.AuthToken)

	if c.globals.JSON {
		return c.printStatusJSON(stats, settings, dbPath, addr, daemonRunning)
	}
	return c.printStatusHuman(stats, settings, dbPath, addr, daemonRunning)
}

func (c *StatusCommand) printStatusHuman(stats *storage.Stats, settings *storage.Settings, dbPath, addr string, daemonRunning bool) error {
	fmt.Println("Trail Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Sessions:      %s\n", formatNumber(stats.TotalSessions))
	fmt.Printf("Open:          %s\n", formatNumber(stats.OpenSessions))
	if stats.TotalSessions > 0 {
		pct := float64(stats.GhostSessions) / float64(stats.TotalSessions) * 100
		fmt.Printf("From history:  %s (%.1f%%)\n", formatNumber(stats.GhostSessions), pct)
	} else {
		fmt.Printf("From history:  %s\n", formatNumber(stats.GhostSessions))
	}

	if stats.OldestSession != nil && stats.NewestSession != nil {
		fmt.Printf("Oldest:        %s\n", stats.OldestSession.Local().Format("2006-01-02"))
		fmt.Printf("Newest:        %s\n", stats.NewestSession.Local().Format("2006-01-02"))
	}

	fmt.Printf("Retention:     %d months\n", settings.RetentionPolicyMonths)
	if settings.DataCollectionEnabled {
		fmt.Println("Collection:    enabled")
	} else {
		fmt.Println("Collection:    disabled")
	}

	if len(stats.TopHosts) > 0 {
		fmt.Println()
		fmt.Println("Top Hosts:")
		for _, h := range stats.TopHosts {
			fmt.Printf("  %-24s %s\n", h.Host, formatNumber(h.Count))
		}
	}

	if len(stats.RecentAudit) > 0 {
		fmt.Println()
		fmt.Println("Recent Maintenance:")
		for _, a := range stats.RecentAudit {
			fmt.Printf("  %s  %-10s %s\n", a.TS.Local().Format("2006-01-02 15:04"), a.Action, a.Detail)
		}
	}

	fmt.Println()
	if daemonRunning {
		fmt.Printf("Daemon:        running (%s)\n", addr)
	} else {
		fmt.Println("Daemon:        not running")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *storage.Stats, settings *storage.Settings, dbPath, addr string, daemonRunning bool) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		TotalSessions:     stats.TotalSessions,
		OpenSessions:      stats.OpenSessions,
		GhostSessions:     stats.GhostSessions,
		RetentionMonths:   settings.RetentionPolicyMonths,
		CollectionEnabled: settings.DataCollectionEnabled,
		TopHosts:          make([]hostCountJSON, len(stats.TopHosts)),
		DaemonAddr:        addr,
		DaemonRunning:     daemonRunning,
	}

	if stats.OldestSession != nil {
		out.OldestSession = stats.OldestSession.UTC().Format(time.RFC3339)
	}
	if stats.NewestSession != nil {
		out.NewestSession = stats.NewestSession.UTC().Format(time.RFC3339)
	}

	for i, h := range stats.TopHosts {
		out.TopHosts[i] = hostCountJSON{Host: h.Host, Count: h.Count}
	}

	return writeJSON(os.Stdout, out)
}

// checkDaemon asks the daemon's health endpoint whether it is up.
// Returns true if the daemon responds within 1 second.
func checkDaemon(ctx context.Context, baseURL, token string) bool {
	client := server.NewClient(baseURL, token)
	client.HTTP.Timeout = time.Second
	return client.Health(ctx)
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
