// Command sqlbridge runs SQL, batches and scenario suites against SQLite
// databases managed by a sqlbridge registry.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sqlbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
