package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:              "~/.config/trail",
			SQLiteFile:        "trail.db",
			StateDir:          "state",
			SQLiteJournalMode: "wal",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8722,
			AuthToken:      "",
			MaxRequestSize: 10485760,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Search: SearchConfig{
			DefaultLimit: 100,
			FacetsSize:   25,
			MaxBuckets:   100,
		},
		Jobs: JobsConfig{
			Concurrency:    1,
			TimeoutSeconds: 30,
		},
		Retention: RetentionConfig{
			IntervalHours: 1,
		},
		Tracker: TrackerConfig{
			StaleAfterHours:    168,
			PurgeIntervalHours: 24,
		},
		Crawler: CrawlerConfig{
			Enabled:           false,
			HistoryPath:       "",
			IntervalHours:     24,
			FloorSeconds:      60,
			MaxResults:        100,
			RequestsPerSecond: 2,
			ScheduleMinutes:   30,
		},
		Capture: CaptureConfig{
			DenylistProtocols: []string{"chrome", "chrome-extension", "moz-extension", "about", "devtools", "edge"},
			DenylistHosts:     []string{"localhost", "127.0.0.1", "newtab"},
			SensitiveHosts:    false,
		},
	}
}
