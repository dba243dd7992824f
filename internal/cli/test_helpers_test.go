package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// testGlobals returns flags carrying the default config, with the daemon
// pointed at a port nothing listens on.
func testGlobals() *GlobalFlags {
	cfg := config.DefaultConfig()
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = 1
	cfg.Search.Timezone = "UTC"
	return &GlobalFlags{DBPath: ":memory:", cfg: cfg}
}

// testStore opens a migrated in-memory store.
func testStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(context.Background(), ":memory:", "",
		storage.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type seedSession struct {
	id, host, url, title, parent, transition string
	tabID                                    int64
	started                                  time.Time
}

// seed inserts sessions directly. Unset start times are spread one minute
// apart ending now.
func seed(t *testing.T, store *storage.SQLiteStore, rows ...seedSession) {
	t.Helper()
	nullable := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}
	now := time.Now()
	for i, r := range rows {
		started := r.started
		if started.IsZero() {
			started = now.Add(-time.Duration(len(rows)-i) * time.Minute)
		}
		tab := r.tabID
		if tab == 0 {
			tab = int64(i + 1)
		}
		_, err := store.DB().Exec(`INSERT INTO session (id, tabId, host, url, rawUrl, title, parentSessionId, transitionType, startedAt, endedAt)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.id, tab, r.host, r.url, r.url, r.title, nullable(r.parent), nullable(r.transition),
			storage.FormatTime(started), storage.FormatTime(started.Add(time.Minute)))
		require.NoError(t, err)
	}
}
