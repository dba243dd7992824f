package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/storage"
)

func seedPruneSessions(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	now := time.Now()
	seed(t, store,
		seedSession{id: "fresh", host: "go.dev", url: "https://go.dev/", title: "Go", started: now.Add(-24 * time.Hour)},
		seedSession{id: "stale1", host: "go.dev", url: "https://go.dev/old", title: "Old", started: now.Add(-200 * 24 * time.Hour)},
		seedSession{id: "stale2", host: "golang.org", url: "https://golang.org/", title: "Older", started: now.Add(-400 * 24 * time.Hour)},
	)
}

func TestPruneDryRun(t *testing.T) {
	store := testStore(t)
	seedPruneSessions(t, store)
	cmd := &PruneCommand{DryRun: true, globals: testGlobals()}

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(store)
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Would prune 2 sessions older than 180 days")

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalSessions, "dry run deletes nothing")
}

func TestPruneDeletes(t *testing.T) {
	store := testStore(t)
	seedPruneSessions(t, store)
	cmd := &PruneCommand{globals: testGlobals()}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})
	assert.Contains(t, output, "Pruned 2 sessions")

	_, err := store.GetSession(context.Background(), "fresh")
	require.NoError(t, err)
	_, err = store.GetSession(context.Background(), "stale1")
	require.Error(t, err)
}

func TestPruneFollowsRetentionSetting(t *testing.T) {
	store := testStore(t)
	seedPruneSessions(t, store)
	months := 12
	_, err := store.UpdateSettings(context.Background(), storage.SettingsPatch{RetentionPolicyMonths: &months})
	require.NoError(t, err)

	g := testGlobals()
	g.JSON = true
	cmd := &PruneCommand{DryRun: true, globals: g}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, true, out["dry_run"])
	assert.Equal(t, float64(1), out["sessions"])
	assert.NotEmpty(t, out["cutoff"])
}
