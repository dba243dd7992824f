package daemon

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/server"
	"github.com/runnerr0/trail/internal/storage"
	"github.com/runnerr0/trail/internal/tracker"
)

type staticHistory []storage.GhostVisit

func (h staticHistory) Visits(_ context.Context, start, end time.Time, max int) ([]storage.GhostVisit, error) {
	var out []storage.GhostVisit
	for _, v := range h {
		if !v.VisitTime.Before(start) && v.VisitTime.Before(end) && len(out) < max {
			out = append(out, v)
		}
	}
	return out, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.SQLiteFile = ":memory:"
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = 0
	cfg.Crawler.IntervalHours = 24 * 365 * 100
	cfg.Crawler.RequestsPerSecond = 0
	return cfg
}

func newDaemon(t *testing.T, cfg *config.Config, history staticHistory) *Daemon {
	t.Helper()
	opts := Options{
		Config:  cfg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version: "test",
	}
	if history != nil {
		opts.History = history
	}
	d, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func call(t *testing.T, c *server.Client, kind server.Kind, fields any) server.Response {
	t.Helper()
	env, err := server.NewEnvelope(kind, "", fields)
	require.NoError(t, err)
	resp, err := c.Call(context.Background(), env)
	require.NoError(t, err)
	return resp
}

func TestDaemon_ServesEnvelopes(t *testing.T) {
	d := newDaemon(t, testConfig(t), nil)
	ts := httptest.NewServer(d.Handler())
	defer ts.Close()
	c := server.NewClient(ts.URL, "")

	assert.True(t, c.Health(context.Background()))

	resp := call(t, c, server.KindTabChanged, storage.TabChange{TabID: 1, URL: "https://go.dev/doc"})
	require.NoError(t, resp.Err())

	resp = call(t, c, server.KindGetStats, nil)
	require.NoError(t, resp.Err())
	var out server.StatsResponse
	require.NoError(t, resp.Decode(&out))
	require.NotNil(t, out.Stats)
	assert.Equal(t, int64(1), out.Stats.TotalSessions)
	assert.Equal(t, int64(1), out.Stats.OpenSessions)
}

func TestDaemon_CaptureDenylist(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.DenylistHosts = []string{"secret.example"}
	d := newDaemon(t, cfg, nil)
	ctx := context.Background()

	total := func() int64 {
		t.Helper()
		resp := d.Service().Handle(ctx, mustEnvelope(t, server.KindGetStats, nil))
		require.NoError(t, resp.Err())
		var out server.StatsResponse
		require.NoError(t, resp.Decode(&out))
		require.NotNil(t, out.Stats)
		return out.Stats.TotalSessions
	}

	resp := d.Service().Handle(ctx, mustEnvelope(t, server.KindTabChanged, storage.TabChange{TabID: 1, URL: "https://go.dev/"}))
	require.NoError(t, resp.Err())
	assert.Equal(t, int64(1), total(), "allowed hosts are recorded")

	resp = d.Service().Handle(ctx, mustEnvelope(t, server.KindTabChanged, storage.TabChange{TabID: 2, URL: "https://secret.example/"}))
	require.NoError(t, resp.Err())
	resp = d.Service().Handle(ctx, mustEnvelope(t, server.KindTabChanged, storage.TabChange{TabID: 3, URL: "https://api.secret.example/x"}))
	require.NoError(t, resp.Err())
	assert.Equal(t, int64(1), total(), "denylisted hosts and their subdomains add nothing")
}

func TestDaemon_MaintenanceTasks(t *testing.T) {
	visit := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	history := staticHistory{
		{VisitID: "1", URL: "https://example.com/a", Title: "A", VisitTime: visit, Transition: "typed"},
		{VisitID: "2", ReferringVisitID: "1", URL: "https://example.com/b", Title: "B", VisitTime: visit.Add(time.Minute), Transition: "link"},
	}
	d := newDaemon(t, testConfig(t), history)
	ctx := context.Background()

	report, err := d.Crawl(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.True(t, report.State.UpToDate)

	again, err := d.Crawl(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Created)

	removed, err := d.ApplyRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed, "visits older than the retention policy are removed")

	_, err = d.tracker.HandleEvent(ctx, tracker.Event{
		Kind: tracker.EventBeforeNavigate, TabID: 3, FrameID: 0,
		TimeStamp: time.Now().Add(-30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	purged, err := d.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestDaemon_CrawlWithoutSource(t *testing.T) {
	d := newDaemon(t, testConfig(t), nil)
	_, err := d.Crawl(context.Background())
	assert.ErrorIs(t, err, ErrCrawlerDisabled)
}

func TestDaemon_ServeShutsDownOnCancel(t *testing.T) {
	d := newDaemon(t, testConfig(t), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	c := server.NewClient("http://"+ln.Addr().String(), "")
	require.Eventually(t, func() bool { return c.Health(context.Background()) }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	assert.False(t, c.Health(context.Background()))
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	every(ctx, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)), "count", func(context.Context) error {
		runs++
		if runs == 3 {
			cancel()
		}
		return nil
	})
	assert.Equal(t, 3, runs)

	disabled := 0
	every(context.Background(), 0, slog.New(slog.NewTextHandler(io.Discard, nil)), "off", func(context.Context) error {
		disabled++
		return nil
	})
	assert.Zero(t, disabled)
}

func mustEnvelope(t *testing.T, kind server.Kind, fields any) server.Envelope {
	t.Helper()
	env, err := server.NewEnvelope(kind, "", fields)
	require.NoError(t, err)
	return env
}
