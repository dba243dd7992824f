package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status   *StatusCommand
	Search   *SearchCommand
	Facets   *FacetsCommand
	Timeline *TimelineCommand
	Open     *OpenCommand
	Add      *AddCommand
	Serve    *ServeCommand
	Backfill *BackfillCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
	Export   *ExportCommand
	Import   *ImportCommand
	Reindex  *ReindexCommand
	Settings *SettingsCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "trail"
	parser.LongDescription = "Local browsing-session log: capture, search, and recall of the pages you visit."

	cmds := &commands{
		Status:   &StatusCommand{globals: &globals, version: version},
		Search:   &SearchCommand{globals: &globals, version: version},
		Facets:   &FacetsCommand{globals: &globals, version: version},
		Timeline: &TimelineCommand{globals: &globals, version: version},
		Open:     &OpenCommand{globals: &globals, version: version},
		Add:      &AddCommand{globals: &globals, version: version},
		Serve:    &ServeCommand{globals: &globals, version: version},
		Backfill: &BackfillCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
		Export:   &ExportCommand{globals: &globals, version: version},
		Import:   &ImportCommand{globals: &globals, version: version},
		Reindex:  &ReindexCommand{globals: &globals, version: version},
		Settings: &SettingsCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show database statistics and daemon health", "Show session counts, top hosts, recent maintenance, and whether the daemon is running.", cmds.Status)
	parser.AddCommand("search", "Search sessions", "Search sessions with the query language, e.g. 'golang AND NOT (reddit OR twitter)' or 'host:go.dev'.", cmds.Search)
	parser.AddCommand("facets", "Show top hosts and terms", "Show the most common hosts and the highest scoring title terms of matching sessions.", cmds.Facets)
	parser.AddCommand("timeline", "Show a histogram of sessions", "Count matching sessions per hour, day, week, or month.", cmds.Timeline)
	parser.AddCommand("open", "Print a session", "Print a session and the sessions opened from it.", cmds.Open)
	parser.AddCommand("add", "Manually record a visit", "Manually record a visit to a URL as a session.", cmds.Add)
	parser.AddCommand("serve", "Start the trail daemon", "Start the trail daemon (local HTTP service).", cmds.Serve)
	parser.AddCommand("backfill", "Import browser history", "Import browser history as ghost sessions, resuming from the last crawl.", cmds.Backfill)
	parser.AddCommand("prune", "Apply the retention policy", "Delete sessions older than the retention policy.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL sessions", "Delete ALL sessions. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("export", "Export the database", "Write a copy of the session database to a new file.", cmds.Export)
	parser.AddCommand("import", "Import an exported database", "Replace all sessions and settings with those of an exported database.", cmds.Import)
	parser.AddCommand("reindex", "Rebuild the search indexes", "Drop and rebuild the full-text indexes.", cmds.Reindex)
	parser.AddCommand("settings", "Show or change settings", "Show the stored settings, or change them with flags.", cmds.Settings)

	return parser, &globals, cmds
}

// Run is the main entry point for the trail CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, but --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("trail %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
