package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/config"
	"github.com/roach88/sqlbridge/internal/logging"
	"github.com/roach88/sqlbridge/internal/registry"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Error code constants - unified across all CLI commands. Statement
// failures use the engine code instead (STEP, PREPARE, ...).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Configuration load or validation failed
	ErrCodeOpenFailed  = "E003" // Database open failed
	ErrCodeBadInput    = "E004" // Malformed parameters or input file
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeChangefeed  = "E006" // Broker connection failed
	ErrCodeWriteFailed = "E007" // File write error
)

// LoadError is a failure while preparing the command environment.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Env is a running Bridge configured from the root options.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	Bridge *bridge.Bridge

	cancel context.CancelFunc
	done   chan struct{}
}

// LoadEnv loads configuration, starts a Bridge with its host loop and
// opens the configured databases. Logs go to logw. Callers must Close
// the result.
func LoadEnv(opts *RootOptions, logw io.Writer) (*Env, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "loading configuration", Err: err}
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(cfg.Logging, logw)

	b := bridge.New(cfg.BaseDir,
		bridge.WithLogger(logger),
		bridge.WithWorkers(cfg.Workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	env := &Env{
		Config: cfg,
		Logger: logger,
		Bridge: b,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(env.done)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("host loop stopped", "error", err)
		}
	}()

	for _, db := range cfg.Databases {
		if err := b.Open(db.Name, openOptions(db)); err != nil {
			env.Close()
			return nil, &LoadError{Code: ErrCodeOpenFailed, Message: fmt.Sprintf("opening database %q", db.Name), Err: err}
		}
		logger.Debug("database opened", "name", db.Name, "location", db.Location)
	}
	return env, nil
}

func openOptions(db config.Database) bridge.OpenOptions {
	opts := bridge.OpenOptions{Location: db.Location, Memory: db.Memory}
	for _, ext := range db.Extensions {
		opts.Extensions = append(opts.Extensions, registry.Extension{Path: ext.Path, EntryPoint: ext.EntryPoint})
	}
	return opts
}

// Ensure opens name in the base directory unless it is already open.
func (e *Env) Ensure(name string) error {
	if _, err := e.Bridge.Registry().Get(name); err == nil {
		return nil
	}
	if err := e.Bridge.Open(name, bridge.OpenOptions{}); err != nil {
		return &LoadError{Code: ErrCodeOpenFailed, Message: fmt.Sprintf("opening database %q", name), Err: err}
	}
	return nil
}

// Close shuts the Bridge down and stops its host loop.
func (e *Env) Close() error {
	err := e.Bridge.Shutdown()
	e.cancel()
	<-e.done
	return err
}

// reportError writes err through f and converts it to an ExitError.
// Configuration and input problems exit with ExitCommandError, engine
// failures with ExitFailure.
func reportError(f *OutputFormatter, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		_ = f.Error(le.Code, le.Error(), nil)
		return WrapExitError(ExitCommandError, le.Message, err)
	}
	_ = f.EngineError(err)
	if sqlerr.IsNotOpenError(err) {
		return WrapExitError(ExitCommandError, "database not open", err)
	}
	return WrapExitError(ExitFailure, "statement failed", err)
}
