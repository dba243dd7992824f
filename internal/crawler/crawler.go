// Package crawler backfills ghost sessions from the browser's own history.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/kv"
	"github.com/runnerr0/trail/internal/storage"
)

// DefaultStateKey is the kv key of the crawl watermark.
const DefaultStateKey = "crawler/state"

// Source lists history visits in [start, end), returning at most max.
type Source interface {
	Visits(ctx context.Context, start, end time.Time, max int) ([]storage.GhostVisit, error)
}

// Sink stores crawled visits.
type Sink interface {
	CreateGhostSessions(ctx context.Context, visits []storage.GhostVisit) (int, error)
	FixChromeParents(ctx context.Context) (int64, error)
}

// State is the persisted crawl watermark. Everything before
// StartTimestamp has been crawled.
type State struct {
	StartTimestamp time.Time `json:"startTimestamp"`
	UpToDate       bool      `json:"upToDate"`
}

// Config tunes the crawl.
type Config struct {
	// Interval is the initial window size.
	Interval time.Duration
	// Floor is the smallest window; a capped window at the floor is
	// accepted as is.
	Floor time.Duration
	// MaxResults is the per-window cap passed to the source.
	MaxResults int
	// RequestsPerSecond paces source calls. Zero means unlimited.
	RequestsPerSecond float64
	StateKey          string
}

// DefaultConfig returns one-day windows down to a one-minute floor with a
// cap of 100 visits.
func DefaultConfig() Config {
	return Config{
		Interval:   24 * time.Hour,
		Floor:      time.Minute,
		MaxResults: 100,
		StateKey:   DefaultStateKey,
	}
}

// Report summarizes one crawl.
type Report struct {
	Windows  int   `json:"windows"`
	Halvings int   `json:"halvings"`
	Visits   int   `json:"visits"`
	Created  int   `json:"created"`
	Fixed    int64 `json:"fixed"`
	State    State `json:"state"`
}

// Crawler walks the history forward from its watermark.
type Crawler struct {
	source  Source
	sink    Sink
	store   kv.Store
	cfg     Config
	log     *slog.Logger
	limiter *rate.Limiter

	// onWindow, when set, observes each window requested from the source.
	onWindow func(start, end time.Time)
}

// New returns a Crawler. Zero fields of cfg take their defaults.
func New(source Source, sink Sink, store kv.Store, cfg Config, log *slog.Logger) *Crawler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.Floor > cfg.Interval {
		cfg.Floor = cfg.Interval
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.StateKey == "" {
		cfg.StateKey = def.StateKey
	}
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Crawler{
		source:  source,
		sink:    sink,
		store:   store,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// State returns the stored watermark, or the Unix epoch when none exists.
func (c *Crawler) State(ctx context.Context) (State, error) {
	st := State{StartTimestamp: time.Unix(0, 0).UTC()}
	if _, err := kv.GetJSON(ctx, c.store, c.cfg.StateKey, &st); err != nil {
		return State{}, fmt.Errorf("load crawler state: %w", err)
	}
	return st, nil
}

func (c *Crawler) saveState(ctx context.Context, st State) error {
	if err := kv.SetJSON(ctx, c.store, c.cfg.StateKey, st); err != nil {
		return fmt.Errorf("save crawler state: %w", err)
	}
	return nil
}

// Reset forgets the watermark so the next crawl starts from the epoch.
func (c *Crawler) Reset(ctx context.Context) error {
	return c.store.Delete(ctx, c.cfg.StateKey)
}

// Crawl imports history from the watermark up to until, one window at a
// time. A window that hits the result cap is retried at half the size
// until the floor is reached. The watermark is saved after every window,
// so an interrupted crawl resumes where it stopped.
func (c *Crawler) Crawl(ctx context.Context, until time.Time) (*Report, error) {
	st, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{State: st}
	start := st.StartTimestamp
	interval := c.cfg.Interval

	for start.Before(until) {
		if err := apperr.CheckAbort(ctx); err != nil {
			return report, err
		}
		end := start.Add(interval)
		if end.After(until) {
			end = until
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return report, apperr.CheckAbort(ctx)
		}
		if c.onWindow != nil {
			c.onWindow(start, end)
		}
		visits, err := c.source.Visits(ctx, start, end, c.cfg.MaxResults)
		if err != nil {
			return report, fmt.Errorf("read history %s to %s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
		}

		capped := len(visits) >= c.cfg.MaxResults
		if capped && interval > c.cfg.Floor {
			interval = max(interval/2, c.cfg.Floor)
			report.Halvings++
			c.log.Debug("history window capped; halving", "start", start, "interval", interval)
			continue
		}
		if capped {
			c.log.Warn("history window capped at floor interval; some visits may be missing",
				"start", start, "end", end, "max_results", c.cfg.MaxResults)
		}

		created, err := c.sink.CreateGhostSessions(ctx, visits)
		if err != nil {
			return report, err
		}
		report.Windows++
		report.Visits += len(visits)
		report.Created += created

		start = end
		st.StartTimestamp = start
		if err := c.saveState(ctx, st); err != nil {
			return report, err
		}
		report.State = st
		if !capped {
			interval = c.cfg.Interval
		}
	}

	fixed, err := c.sink.FixChromeParents(ctx)
	if err != nil {
		return report, err
	}
	report.Fixed = fixed

	st.UpToDate = true
	if err := c.saveState(ctx, st); err != nil {
		return report, err
	}
	report.State = st
	c.log.Info("history crawl finished",
		"windows", report.Windows, "visits", report.Visits, "created", report.Created, "fixed", report.Fixed)
	return report, nil
}
