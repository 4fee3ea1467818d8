package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Params string // JSON array of positional parameters
	Raw    bool   // row arrays instead of objects
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <db> <sql>",
		Short: "Execute SQL against a database",
		Long: `Execute one or more SQL statements against a database.

The database is opened in the configured base directory if it is not one
of the configured databases. Parameters are given as a JSON array and are
bound positionally to every statement.

Exit codes:
  0 - Statements succeeded
  1 - A statement failed
  2 - Command error (bad config, bad parameters)

Examples:
  sqlbridge exec app "CREATE TABLE t(id INTEGER PRIMARY KEY, v TEXT)"
  sqlbridge exec app "INSERT INTO t(v) VALUES (?)" --params '["x"]'
  sqlbridge exec app "SELECT * FROM t" --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Params, "params", "p", "", "JSON array of parameters")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "return rows as arrays")

	return cmd
}

func runExec(opts *ExecOptions, db, sql string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	params, err := parseParams(opts.Params)
	if err != nil {
		return reportError(f, err)
	}

	env, err := LoadEnv(opts.RootOptions, cmd.ErrOrStderr())
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

	run := env.Bridge.Execute
	if opts.Raw {
		run = env.Bridge.ExecuteRaw
	}
	f.VerboseLog("executing on %s: %s", db, sql)
	res, err := run(ctx, db, sql, params)
	if err != nil {
		return reportError(f, err)
	}

	if opts.Format == "json" {
		return f.SuccessCanonical(res.ToMap())
	}
	writeResultText(cmd.OutOrStdout(), res)
	return nil
}

// parseParams decodes a JSON array. Numbers stay json.Number so integers
// keep full precision until value.ToNative classifies them.
func parseParams(src string) ([]any, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()

	var params []any
	if err := dec.Decode(&params); err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Message: "parameters must be a JSON array", Err: err}
	}
	for i, p := range params {
		if _, err := value.ToNative(p); err != nil {
			return nil, &LoadError{Code: ErrCodeBadInput, Message: fmt.Sprintf("parameter %d", i), Err: err}
		}
	}
	return params, nil
}

// writeResultText prints rows as tab-separated lines with a header,
// followed by the change counters.
func writeResultText(w io.Writer, res *store.Result) {
	if len(res.Metadata) > 0 {
		names := make([]string, len(res.Metadata))
		for i, m := range res.Metadata {
			names[i] = m.Name
		}
		fmt.Fprintln(w, strings.Join(names, "\t"))
	}
	for _, row := range res.Rows {
		writeValues(w, row.Values())
	}
	for _, raw := range res.RawRows {
		writeValues(w, raw)
	}

	fmt.Fprintf(w, "rows affected: %d", res.RowsAffected)
	if res.InsertID != 0 {
		fmt.Fprintf(w, ", last insert id: %d", res.InsertID)
	}
	fmt.Fprintln(w)
}

func writeValues(w io.Writer, vals []value.Value) {
	cells := make([]string, len(vals))
	for i, v := range vals {
		cells[i] = value.String(v)
	}
	fmt.Fprintln(w, strings.Join(cells, "\t"))
}
