package cli

import (
	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/crawler"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DBPath  string `long:"db-path" description:"Override the session database path"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`

	cfg *config.Config // loaded on first use; tests set it directly
}

// StatusCommand shows database statistics and daemon health.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SearchCommand searches sessions with the query language.
type SearchCommand struct {
	Since       string   `long:"since" description:"Only sessions started within duration (e.g., 7d, 24h, 2w)" default:"30d"`
	Until       string   `long:"until" description:"Only sessions started before duration ago"`
	Host        []string `long:"host" description:"Filter by host (repeatable)"`
	Annotate    bool     `long:"annotate" description:"Include child counts and highlights"`
	Limit       int      `long:"limit" description:"Maximum results" default:"10"`
	Offset      int      `long:"offset" description:"Skip first N results" default:"0"`
	ChildFilter string   `long:"child" description:"Only sessions with a child matching this query"`

	globals *GlobalFlags
	version string
}

// FacetsCommand prints the top hosts and title terms of matching sessions.
type FacetsCommand struct {
	Since string `long:"since" description:"Only sessions started within duration" default:"30d"`
	Size  int    `long:"size" description:"Number of facet values" default:"10"`

	globals *GlobalFlags
	version string
}

// TimelineCommand prints a histogram of session start times.
type TimelineCommand struct {
	Since       string `long:"since" description:"Only sessions started within duration" default:"30d"`
	Granularity string `long:"granularity" description:"Bucket size: auto | hour | day | week | month" default:"auto"`
	MaxBuckets  int    `long:"max-buckets" description:"Upper bound on buckets when granularity is auto"`

	globals *GlobalFlags
	version string
}

// OpenCommand prints one session and its children.
type OpenCommand struct {
	ID     string `long:"id" description:"Session ID (required)"`
	Format string `long:"format" description:"Output format: full | url | title | json" default:"full"`

	globals *GlobalFlags
	version string
}

// AddCommand records a visit by hand.
type AddCommand struct {
	URL   string `long:"url" description:"URL to record (required)"`
	Title string `long:"title" description:"Page title"`
	TabID int64  `long:"tab" description:"Tab the visit belongs to" default:"0"`
	Keep  bool   `long:"keep-open" description:"Leave the session open instead of ending it"`

	globals *GlobalFlags
	version string
}

// ServeCommand starts the trail daemon (local HTTP service).
type ServeCommand struct {
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// BackfillCommand imports browser history as ghost sessions.
type BackfillCommand struct {
	History string `long:"history" description:"Path to the browser History database (defaults to crawler.history_path)"`
	Reset   bool   `long:"reset" description:"Forget the crawl watermark and start from the beginning"`

	globals *GlobalFlags
	version string
	source  crawler.Source // injectable for testing
}

// PruneCommand applies the retention policy.
type PruneCommand struct {
	DryRun bool `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes all sessions with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
}

// ExportCommand writes a copy of the database to a new file.
type ExportCommand struct {
	Path string `long:"path" description:"Destination file (required)"`

	globals *GlobalFlags
	version string
}

// ImportCommand replaces the session log with an exported database.
type ImportCommand struct {
	Path string `long:"path" description:"Exported database file (required)"`

	globals *GlobalFlags
	version string
}

// ReindexCommand rebuilds the full-text indexes.
type ReindexCommand struct {
	globals *GlobalFlags
	version string
}

// SettingsCommand shows or updates the stored preferences.
type SettingsCommand struct {
	Collection      string `long:"collection" description:"Enable or disable data collection: on | off"`
	DevMode         string `long:"dev-mode" description:"Enable or disable developer mode: on | off"`
	RetentionMonths int    `long:"retention-months" description:"Months of history to keep"`
	Theme           string `long:"theme" description:"Theme: auto | light | dark"`

	globals *GlobalFlags
	version string
}
