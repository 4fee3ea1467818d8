package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbridge/internal/changefeed"
	"github.com/roach88/sqlbridge/internal/reactive"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Query   string   // reactive query re-run on matching changes
	Tables  []string // tables the query depends on
	Publish bool     // publish changes to the configured MQTT broker
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <db>",
		Short: "Run statements from stdin and stream the changes they make",
		Long: `Read SQL statements from stdin, one per line, execute them on the
database and print every change event as a JSON line.

With --query the query is subscribed reactively and its fresh result is
printed each time one of the --table tables changes. With --publish, or
changefeed.enabled in the config, changes are also published to the
MQTT broker.

The command stops at end of input or on SIGINT/SIGTERM. Statement
failures are printed as error events and do not stop the stream.

Example:
  printf 'INSERT INTO t(v) VALUES (1)\n' | sqlbridge watch app --query "SELECT count(*) AS n FROM t" --table t`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "reactive query to re-run on changes")
	cmd.Flags().StringSliceVarP(&opts.Tables, "table", "t", nil, "table the query depends on (repeatable)")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "publish changes to the configured MQTT broker")

	return cmd
}

func runWatch(opts *WatchOptions, db string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if opts.Query != "" && len(opts.Tables) == 0 {
		return reportError(f, &LoadError{Code: ErrCodeBadInput, Message: "--query requires at least one --table"})
	}

	env, err := LoadEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return reportError(f, err)
	}
	defer env.Close()

	if err := env.Ensure(db); err != nil {
		return reportError(f, err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			env.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Events are written only from the host loop, so the stream keeps
	// the order in which the loop delivered them.
	out := cmd.OutOrStdout()
	emit := func(event map[string]any) {
		writeEvent(out, env.Logger, event)
	}

	onUpdate := func(ev reactive.UpdateEvent) {
		emit(withEvent("update", changefeed.Message(ev)))
	}

	if opts.Publish || env.Config.Changefeed.Enabled {
		feed, err := dialFeed(env)
		if err != nil {
			return reportError(f, err)
		}
		// Close publishes whatever is still queued.
		defer feed.Close()
		show := onUpdate
		onUpdate = func(ev reactive.UpdateEvent) {
			show(ev)
			feed.Handle(ev)
		}
	}

	if err := env.Bridge.UpdateHook(ctx, db, onUpdate); err != nil {
		return reportError(f, err)
	}

	if opts.Query != "" {
		fireOn := make([]reactive.Discriminator, len(opts.Tables))
		for i, t := range opts.Tables {
			fireOn[i] = reactive.Discriminator{Table: t}
		}
		unsubscribe, err := env.Bridge.ReactiveExecute(ctx, db, reactive.Query{
			SQL:    opts.Query,
			FireOn: fireOn,
			Callback: func(res *store.Result, err error) {
				if err != nil {
					emit(errorEvent(opts.Query, err))
					return
				}
				emit(map[string]any{"event": "query", "result": res.ToMap()})
			},
		})
		if err != nil {
			return reportError(f, err)
		}
		defer unsubscribe()
	}

	f.VerboseLog("watching %s", db)
	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			env.Logger.Info("watch stopped")
			return nil
		case sql, ok := <-lines:
			if !ok {
				drain(env)
				return nil
			}
			if _, err := env.Bridge.Execute(ctx, db, sql, nil); err != nil {
				env.Bridge.Loop().Invoke(func() { emit(errorEvent(sql, err)) })
			}
		}
	}
}

func dialFeed(env *Env) (*changefeed.Feed, error) {
	cfg := env.Config.Changefeed
	pub, err := changefeed.DialMQTT(cfg)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeChangefeed, Message: "connecting to broker", Err: err}
	}
	return changefeed.New(pub, changefeed.Options{
		TopicPrefix: cfg.TopicPrefix,
		QoS:         byte(cfg.QoS),
		Logger:      env.Logger,
	}), nil
}

// readLines sends each non-blank line of r until EOF or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case ch <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// drain waits until every delivery queued on the host loop so far has run.
func drain(env *Env) {
	done := make(chan struct{})
	if !env.Bridge.Loop().Invoke(func() { close(done) }) {
		return
	}
	<-done
}

func withEvent(kind string, m map[string]any) map[string]any {
	m["event"] = kind
	return m
}

func errorEvent(sql string, err error) map[string]any {
	code := string(sqlerr.CodeOf(err))
	if code == "" {
		code = ErrCodeGeneric
	}
	return map[string]any{
		"event":   "error",
		"sql":     sql,
		"code":    code,
		"message": err.Error(),
	}
}

func writeEvent(w io.Writer, logger *slog.Logger, event map[string]any) {
	line, err := value.MarshalCanonical(event)
	if err != nil {
		logger.Warn("event encoding failed", "event", event["event"], "error", err)
		return
	}
	fmt.Fprintln(w, string(line))
}
