// Trail records the pages you visit as browsing sessions and lets you
// search them from the command line or through a local daemon.
//
// Usage:
//
//	trail serve            Start the daemon
//	trail search <query>   Search sessions
//	trail status           Show database statistics
package main

import (
	"os"

	"github.com/runnerr0/trail/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// The parser prints errors itself.
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
