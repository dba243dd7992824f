package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/runnerr0/trail/internal/clause"
	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/search"
	"github.com/runnerr0/trail/internal/storage"
)

// loadConfig resolves the configuration.
// Priority: --config flag > default config file > built-in defaults.
func (g *GlobalFlags) loadConfig() *config.Config {
	if g.cfg != nil {
		return g.cfg
	}
	var cfg *config.Config
	var err error
	if g.Config != "" {
		cfg, err = config.Load(g.Config)
	} else {
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; using defaults\n", err)
		cfg = config.DefaultConfig()
	}
	g.cfg = cfg
	return cfg
}

// configPath returns the config file in use, or "" when defaults are used.
func (g *GlobalFlags) configPath() string {
	if g.Config != "" {
		return g.Config
	}
	path, err := config.ExpandPath(config.DefaultConfigPath)
	if err != nil {
		return ""
	}
	return path
}

// dbPath determines the session database path.
// Priority: --db-path flag > config file > default config.
func (g *GlobalFlags) dbPath() (string, error) {
	if g.DBPath != "" {
		return g.DBPath, nil
	}
	return g.loadConfig().DBPath()
}

// logger returns a stderr logger: debug with --verbose, warnings otherwise.
func (g *GlobalFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if g.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore opens the session database, creating its directory and
// running migrations.
func (g *GlobalFlags) openStore(ctx context.Context) (*storage.SQLiteStore, error) {
	dbPath, err := g.dbPath()
	if err != nil {
		return nil, err
	}
	cfg := g.loadConfig()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return storage.Open(ctx, dbPath, cfg.Storage.SQLiteJournalMode,
		storage.WithLogger(g.logger()),
		storage.WithURLPolicy(storage.NewURLPolicy(cfg.Capture.DenylistProtocols, cfg.DenyHosts())))
}

// withStore opens the store, runs fn and closes it.
func (g *GlobalFlags) withStore(fn func(*storage.SQLiteStore) error) error {
	store, err := g.openStore(context.Background())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// searchService builds a search service over store using the configured
// limits and zone.
func (g *GlobalFlags) searchService(store *storage.SQLiteStore) *search.Service {
	cfg := g.loadConfig()
	policy := storage.NewURLPolicy(cfg.Capture.DenylistProtocols, cfg.DenyHosts())
	return search.New(store.DB(),
		search.WithLogger(g.logger()),
		search.WithLocation(cfg.Location()),
		search.WithStopHosts(policy.StopHosts()),
		search.WithDefaultLimit(cfg.Search.DefaultLimit),
		search.WithFacetsSize(cfg.Search.FacetsSize),
		search.WithMaxBuckets(cfg.Search.MaxBuckets),
	)
}

// timeRange turns --since/--until durations into a startedAt filter.
func timeRange(now time.Time, since, until string) (clause.Clause, error) {
	var parts []clause.Clause
	if since != "" {
		dur, err := parseDuration(since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since value %q: %w", since, err)
		}
		parts = append(parts, clause.Ge("startedAt", now.Add(-dur).UTC().Format(time.RFC3339Nano)))
	}
	if until != "" {
		dur, err := parseDuration(until)
		if err != nil {
			return nil, fmt.Errorf("invalid --until value %q: %w", until, err)
		}
		parts = append(parts, clause.Lt("startedAt", now.Add(-dur).UTC().Format(time.RFC3339Nano)))
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return clause.Combine(parts...), nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// onOff parses an on/off flag value.
func onOff(name, v string) (*bool, error) {
	switch v {
	case "":
		return nil, nil
	case "on", "true", "yes":
		b := true
		return &b, nil
	case "off", "false", "no":
		b := false
		return &b, nil
	default:
		return nil, fmt.Errorf("invalid --%s value %q (use on or off)", name, v)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
