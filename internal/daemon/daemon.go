// Package daemon wires the trail service into a long-running process: the
// session store, the durable state store, the job queue, the HTTP
// transport and the periodic maintenance tasks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/crawler"
	"github.com/runnerr0/trail/internal/jobs"
	"github.com/runnerr0/trail/internal/kv"
	"github.com/runnerr0/trail/internal/logging"
	"github.com/runnerr0/trail/internal/search"
	"github.com/runnerr0/trail/internal/server"
	"github.com/runnerr0/trail/internal/storage"
	"github.com/runnerr0/trail/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// Options configures a Daemon.
type Options struct {
	Config *config.Config
	// ConfigPath is watched for changes when set.
	ConfigPath string
	Logger     *slog.Logger
	// Level, when set, is adjusted on config reload.
	Level   *slog.LevelVar
	Version string
	// Registry receives the daemon's metrics. Nil creates a private one.
	Registry *prometheus.Registry
	// History overrides the crawler's history source.
	History crawler.Source
}

// Daemon is a running trail service.
type Daemon struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger
	level      *slog.LevelVar
	version    string

	conn     *storage.Connector
	state    *kv.BadgerStore
	jobs     *jobs.Manager
	tracker  *tracker.Tracker
	service  *server.Service
	registry *prometheus.Registry
	router   *gin.Engine
	history  crawler.Source

	closeOnce sync.Once
	closeErr  error
}

// New opens the state store and builds the service. The session database
// is opened on first use.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}

	var state *kv.BadgerStore
	if dbPath == ":memory:" {
		state, err = kv.Open(kv.Config{InMemory: true, Logger: log})
	} else {
		state, err = kv.Open(kv.Config{Path: stateDir, Logger: log})
	}
	if err != nil {
		return nil, err
	}

	policy := storage.NewURLPolicy(cfg.Capture.DenylistProtocols, cfg.DenyHosts())
	conn := storage.NewConnector(func(ctx context.Context) (*storage.SQLiteStore, error) {
		log.Info("opening session database", "path", dbPath)
		return storage.Open(ctx, dbPath, cfg.Storage.SQLiteJournalMode,
			storage.WithLogger(log), storage.WithURLPolicy(policy))
	})

	m := jobs.New(jobs.Options{
		Concurrency: cfg.Jobs.Concurrency,
		Timeout:     cfg.JobTimeout(),
		Logger:      log,
		Metrics:     jobs.NewMetrics(reg),
	})
	m.Use(jobs.Tracing(), jobs.Logging(log), jobs.WithLock(jobs.NewLocks()))

	t := tracker.New(
		tracker.NewObserver(state, tracker.WithObserverLogger(log)),
		tracker.NewTabHandler(conn, log),
	)
	svc := server.NewService(conn, m,
		server.WithTracker(t),
		server.WithLogger(log),
		server.WithSearchOptions(
			search.WithLogger(log),
			search.WithLocation(cfg.Location()),
			search.WithStopHosts(policy.StopHosts()),
			search.WithDefaultLimit(cfg.Search.DefaultLimit),
			search.WithFacetsSize(cfg.Search.FacetsSize),
			search.WithMaxBuckets(cfg.Search.MaxBuckets),
		),
	)

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(svc, server.HTTPOptions{
		AuthToken:      cfg.Daemon.AuthToken,
		MaxRequestSize: int64(cfg.Daemon.MaxRequestSize),
		Gatherer:       reg,
		Version:        opts.Version,
	})

	return &Daemon{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		log:        log,
		level:      opts.Level,
		version:    opts.Version,
		conn:       conn,
		state:      state,
		jobs:       m,
		tracker:    t,
		service:    svc,
		registry:   reg,
		router:     router,
		history:    opts.History,
	}, nil
}

// Handler returns the HTTP handler of the daemon.
func (d *Daemon) Handler() http.Handler { return d.router }

// Service returns the envelope dispatcher.
func (d *Daemon) Service() *server.Service { return d.service }

// Run listens on the configured address and serves until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Addr(), err)
	}
	return d.Serve(ctx, ln)
}

// Serve serves HTTP on ln and runs the maintenance loops until ctx is
// done, then shuts everything down.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.log.Info("trail daemon listening", "addr", ln.Addr().String(), "version", d.version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		every(ctx, d.cfg.RetentionInterval(), d.log, "retention", func(ctx context.Context) error {
			_, err := d.ApplyRetention(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		every(ctx, d.cfg.PurgeInterval(), d.log, "stale purge", func(ctx context.Context) error {
			_, err := d.PurgeStale(ctx)
			return err
		})
		return nil
	})
	if d.cfg.Crawler.Enabled {
		g.Go(func() error {
			every(ctx, d.cfg.CrawlSchedule(), d.log, "history crawl", func(ctx context.Context) error {
				_, err := d.Crawl(ctx)
				return err
			})
			return nil
		})
	}
	if d.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(ctx, d.configPath, d.log, d.reload); err != nil {
				d.log.Warn("config watch disabled", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close aborts queued jobs and closes the stores.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = errors.Join(d.jobs.Close(), d.conn.Close(), d.state.Close())
	})
	return d.closeErr
}

// reload applies the settings that can change while running.
func (d *Daemon) reload(cfg *config.Config) {
	if d.level != nil {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			d.level.Set(level)
			d.log.Info("log level changed", "level", level.String())
		}
	}
	if cfg.Addr() != d.cfg.Addr() || cfg.Storage != d.cfg.Storage {
		d.log.Warn("daemon and storage settings take effect after a restart")
	}
}

// every runs fn now and then once per interval until ctx is done. A
// non-positive interval disables the loop.
func every(ctx context.Context, interval time.Duration, log *slog.Logger, name string, fn func(context.Context) error) {
	if interval <= 0 {
		log.Debug("periodic task disabled", "task", name)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Warn("periodic task failed", "task", name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
