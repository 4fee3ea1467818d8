package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbridge/internal/kv"
)

// kvOptions select the storage database.
type kvOptions struct {
	Name     string
	Location string
}

// NewKVCommand creates the kv command and its subcommands.
func NewKVCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &kvOptions{}

	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write the key/value storage database",
		Long: `Manage string keys and values kept in a dedicated database under the
base directory. The database is created on first use.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Name, "name", kv.DefaultName, "storage database name")
	cmd.PersistentFlags().StringVar(&opts.Location, "location", "", "storage database location")

	cmd.AddCommand(&cobra.Command{
		Use:           "get <key>",
		Short:         "Print the value stored under key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(rootOpts, opts, cmd, func(ctx context.Context, f *OutputFormatter, s *kv.Storage) error {
				v, ok, err := s.Get(ctx, args[0])
				if err != nil {
					return reportError(f, err)
				}
				if !ok {
					_ = f.Error(ErrCodeNotFound, fmt.Sprintf("key %q not found", args[0]), nil)
					return NewExitError(ExitFailure, "key not found")
				}
				if f.Format == "json" {
					return f.Success(map[string]string{"key": args[0], "value": v})
				}
				return f.Success(v)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Store value under key",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(rootOpts, opts, cmd, func(ctx context.Context, f *OutputFormatter, s *kv.Storage) error {
				if err := s.Set(ctx, args[0], args[1]); err != nil {
					return reportError(f, err)
				}
				f.VerboseLog("stored %s", args[0])
				return jsonAck(f, map[string]string{"key": args[0]})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "remove <key>",
		Short:         "Delete key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(rootOpts, opts, cmd, func(ctx context.Context, f *OutputFormatter, s *kv.Storage) error {
				if err := s.Remove(ctx, args[0]); err != nil {
					return reportError(f, err)
				}
				return jsonAck(f, map[string]string{"key": args[0]})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "keys",
		Short:         "List every key",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(rootOpts, opts, cmd, func(ctx context.Context, f *OutputFormatter, s *kv.Storage) error {
				keys, err := s.Keys(ctx)
				if err != nil {
					return reportError(f, err)
				}
				if f.Format == "json" {
					return f.Success(map[string][]string{"keys": keys})
				}
				for _, k := range keys {
					fmt.Fprintln(f.Writer, k)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Delete every key",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(rootOpts, opts, cmd, func(ctx context.Context, f *OutputFormatter, s *kv.Storage) error {
				if err := s.Clear(ctx); err != nil {
					return reportError(f, err)
				}
				return jsonAck(f, nil)
			})
		},
	})

	return cmd
}

// withStorage opens the storage database on a fresh Env and runs fn.
func withStorage(rootOpts *RootOptions, opts *kvOptions, cmd *cobra.Command, fn func(context.Context, *OutputFormatter, *kv.Storage) error) error {
	f := newFormatter(rootOpts, cmd)

	env, err := LoadEnv(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return reportError(f, err)
	}
	defer env.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := kv.Open(ctx, env.Bridge, kv.Options{Name: opts.Name, Location: opts.Location})
	if err != nil {
		return reportError(f, err)
	}
	return fn(ctx, f, s)
}

// jsonAck reports success for commands that print nothing in text mode.
func jsonAck(f *OutputFormatter, data any) error {
	if f.Format != "json" {
		return nil
	}
	return f.Success(data)
}
