package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/runnerr0/trail/internal/daemon"
	"github.com/runnerr0/trail/internal/logging"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg := *c.globals.loadConfig()
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}
	if c.globals.DBPath != "" {
		cfg.Storage.Path, cfg.Storage.SQLiteFile = filepath.Split(c.globals.DBPath)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := new(slog.LevelVar)
	log, closer, err := logging.NewLeveled(cfg.Logging, os.Stderr, level)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(log)

	opts := daemon.Options{
		Config:  &cfg,
		Logger:  log,
		Level:   level,
		Version: c.version,
	}
	if path := c.globals.configPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			opts.ConfigPath = path
		}
	}

	d, err := daemon.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil {
		d.Close()
		return err
	}
	log.Info("trail daemon stopped")
	return nil
}
