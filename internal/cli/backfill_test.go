package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/crawler"
	"github.com/runnerr0/trail/internal/kv"
	"github.com/runnerr0/trail/internal/storage"
)

type fakeHistory []storage.GhostVisit

func (h fakeHistory) Visits(_ context.Context, start, end time.Time, max int) ([]storage.GhostVisit, error) {
	var out []storage.GhostVisit
	for _, v := range h {
		if !v.VisitTime.Before(start) && v.VisitTime.Before(end) && len(out) < max {
			out = append(out, v)
		}
	}
	return out, nil
}

func backfillGlobals() *GlobalFlags {
	g := testGlobals()
	g.cfg.Crawler.IntervalHours = 24 * 365 * 100
	g.cfg.Crawler.RequestsPerSecond = 0
	return g
}

func testState(t *testing.T) *kv.BadgerStore {
	t.Helper()
	state, err := kv.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })
	return state
}

func TestBackfillImportsGhostSessions(t *testing.T) {
	visit := time.Now().Add(-2 * time.Hour).UTC()
	history := fakeHistory{
		{VisitID: "1", URL: "https://go.dev/", Title: "Go", VisitTime: visit, Transition: "typed"},
		{VisitID: "2", ReferringVisitID: "1", URL: "https://go.dev/doc", Title: "Docs", VisitTime: visit.Add(time.Minute), Transition: "link"},
	}
	store := testStore(t)
	state := testState(t)
	cmd := &BackfillCommand{globals: backfillGlobals(), source: history}

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStores(store, state)
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Imported 2 sessions from 2 visits")

	stats, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.GhostSessions)

	output = captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStores(store, state))
	})
	assert.Contains(t, output, "Imported 0 sessions", "the watermark skips crawled history")
}

func TestBackfillResetJSON(t *testing.T) {
	visit := time.Now().Add(-time.Hour).UTC()
	history := fakeHistory{{VisitID: "1", URL: "https://go.dev/", Title: "Go", VisitTime: visit}}
	store := testStore(t)
	state := testState(t)
	g := backfillGlobals()
	g.JSON = true

	cmd := &BackfillCommand{globals: g, source: history}
	captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStores(store, state))
	})

	cmd.Reset = true
	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStores(store, state))
	})

	var report crawler.Report
	require.NoError(t, json.Unmarshal([]byte(output), &report))
	assert.Equal(t, 1, report.Visits, "a reset crawl sees the history again")
	assert.Zero(t, report.Created, "already imported visits are not duplicated")
	assert.True(t, report.State.UpToDate)
}
