package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <db> <sql-file>",
		Short: "Load a newline-delimited SQL file",
		Long: `Execute every non-blank line of a SQL file as one statement,
inside one exclusive transaction. The load runs on the worker pool.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runLoad(opts *RootOptions, db, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	env, err := LoadEnv(opts, cmd.ErrOrStderr())
	if err != nil {
		return reportError(f, err)
	}
	defer env.Close()

	if err := env.Ensure(db); err != nil {
		return reportError(f, err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	f.VerboseLog("loading %s into %s", path, db)
	res, err := env.Bridge.LoadFile(db, path).Await(ctx)
	if err != nil {
		return reportError(f, err)
	}

	return writeCounts(f, res.Commands, res.RowsAffected)
}
