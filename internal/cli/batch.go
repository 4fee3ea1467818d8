package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlbridge/internal/batch"
	"github.com/roach88/sqlbridge/internal/value"
)

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <db> <file.yaml>",
		Short: "Execute a batch of commands in one transaction",
		Long: `Execute a YAML list of commands inside one exclusive transaction.

Each entry has sql and optional params. params is either one list of
values or a list of lists; a list of lists runs the statement once per
inner list. Any failure rolls the whole batch back.

Example file:
  - sql: INSERT INTO t(v) VALUES (?)
    params: [[a], [b], [c]]
  - sql: DELETE FROM t WHERE v = ?
    params: [b]`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runBatch(opts *RootOptions, db, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	commands, err := readBatchFile(path)
	if err != nil {
		return reportError(f, err)
	}

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

	f.VerboseLog("running %d commands on %s", len(commands), db)
	res, err := env.Bridge.ExecuteBatch(ctx, db, commands)
	if err != nil {
		return reportError(f, err)
	}

	return writeCounts(f, res.Commands, res.RowsAffected)
}

// readBatchFile parses a YAML batch file into commands.
func readBatchFile(path string) ([]batch.Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: "batch file not found: " + path, Err: err}
		}
		return nil, &LoadError{Code: ErrCodeBadInput, Message: "reading batch file", Err: err}
	}

	var tuples []batch.Tuple
	if err := yaml.Unmarshal(data, &tuples); err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Message: "parsing batch file", Err: err}
	}

	commands, err := batch.FromTuples(tuples)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Message: "expanding batch", Err: err}
	}
	for _, c := range commands {
		if _, err := value.ToNativeAll(c.Params); err != nil {
			return nil, &LoadError{Code: ErrCodeBadInput, Message: "batch parameter for " + c.SQL, Err: err}
		}
	}
	return commands, nil
}

// writeCounts reports a committed command list.
func writeCounts(f *OutputFormatter, commands int, rowsAffected int64) error {
	if f.Format == "json" {
		return f.Success(map[string]any{
			"commands":     commands,
			"rowsAffected": rowsAffected,
		})
	}
	fmt.Fprintf(f.Writer, "committed %d commands, rows affected: %d\n", commands, rowsAffected)
	return nil
}
