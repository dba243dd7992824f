package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/runnerr0/trail/internal/crawler"
	"github.com/runnerr0/trail/internal/jobs"
	"github.com/runnerr0/trail/internal/server"
)

// ErrCrawlerDisabled is returned by Crawl when no history source is
// configured.
var ErrCrawlerDisabled = errors.New("history crawler has no source configured")

func (d *Daemon) write(ctx context.Context, name string, fn jobs.Func) (any, error) {
	return d.jobs.Submit(ctx, jobs.Job{Name: name, Lock: server.WriterLock, Fn: fn}).Wait(ctx)
}

// ApplyRetention deletes sessions older than the retention policy and
// returns how many were removed.
func (d *Daemon) ApplyRetention(ctx context.Context) (int64, error) {
	v, err := d.write(ctx, "ApplyRetentionPolicy", func(ctx context.Context) (any, error) {
		st, err := d.conn.Store(ctx)
		if err != nil {
			return nil, err
		}
		return st.ApplyRetentionPolicy(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// PurgeStale drops pending navigations that never completed.
func (d *Daemon) PurgeStale(ctx context.Context) (int, error) {
	v, err := d.write(ctx, "PurgeStaleNavigations", func(ctx context.Context) (any, error) {
		return d.tracker.Observer.PurgeStale(ctx, time.Now(), d.cfg.StaleAfter())
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Crawl imports browser history up to now as ghost sessions.
func (d *Daemon) Crawl(ctx context.Context) (*crawler.Report, error) {
	source, closeSource, err := d.historySource()
	if err != nil {
		return nil, err
	}
	defer closeSource()

	v, err := d.write(ctx, "CrawlHistory", func(ctx context.Context) (any, error) {
		st, err := d.conn.Store(ctx)
		if err != nil {
			return nil, err
		}
		c := crawler.New(source, st, d.state, crawler.Config{
			Interval:          time.Duration(d.cfg.Crawler.IntervalHours) * time.Hour,
			Floor:             time.Duration(d.cfg.Crawler.FloorSeconds) * time.Second,
			MaxResults:        d.cfg.Crawler.MaxResults,
			RequestsPerSecond: d.cfg.Crawler.RequestsPerSecond,
		}, d.log)
		return c.Crawl(ctx, time.Now())
	})
	if err != nil {
		return nil, err
	}
	return v.(*crawler.Report), nil
}

func (d *Daemon) historySource() (crawler.Source, func(), error) {
	if d.history != nil {
		return d.history, func() {}, nil
	}
	if d.cfg.Crawler.HistoryPath == "" {
		return nil, nil, ErrCrawlerDisabled
	}
	h, err := crawler.OpenChromeHistory(d.cfg.Crawler.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	return h, func() { h.Close() }, nil
}
