package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// MemoryPath is the sentinel location for a private in-memory database.
const MemoryPath = ":memory:"

// Conn is one open engine handle guarded by a per-connection mutex.
type Conn struct {
	mu     sync.Mutex
	raw    *sqlite3.SQLiteConn
	name   string
	path   string
	closed bool
	logger *slog.Logger

	counters *sqlite3.SQLiteStmt

	// Change hook state. Guarded by mu.
	pending    []ChangeEvent
	flushing   bool
	onChange   ChangeHandler
	onCommit   func()
	onRollback func()
	hookOn     atomic.Bool
}

// Option configures a Conn at open time.
type Option func(*openConfig)

type openConfig struct {
	name    string
	pragmas []string
	logger  *slog.Logger
}

// WithName sets the logical connection name used in errors and logs.
func WithName(name string) Option {
	return func(c *openConfig) {
		c.name = name
	}
}

// WithPragmas sets statements run once after the handle opens.
//
// Default: busy_timeout=5000.
func WithPragmas(pragmas ...string) Option {
	return func(c *openConfig) {
		c.pragmas = pragmas
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) {
		c.logger = l
	}
}

// Open opens (creating if needed) the database at path with a single
// engine handle in read-write-create mode. Extension loading is available
// through Session.LoadExtension. MemoryPath opens a private in-memory
// database and touches no filesystem entry.
func Open(path string, opts ...Option) (*Conn, error) {
	cfg := openConfig{
		pragmas: []string{"PRAGMA busy_timeout = 5000"},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = path
	}

	drv := &sqlite3.SQLiteDriver{}
	dc, err := drv.Open(path)
	if err != nil {
		return nil, sqlerr.FromEngine(sqlerr.CodeOpen, fmt.Errorf("failed to open database %s: %w", path, err))
	}
	raw, ok := dc.(*sqlite3.SQLiteConn)
	if !ok {
		dc.Close()
		return nil, sqlerr.NewOpenError(fmt.Sprintf("unexpected driver connection %T", dc))
	}

	c := &Conn{
		raw:    raw,
		name:   cfg.name,
		path:   path,
		logger: cfg.logger,
	}

	if err := c.applyPragmas(cfg.pragmas); err != nil {
		raw.Close()
		return nil, sqlerr.FromEngine(sqlerr.CodeOpen, fmt.Errorf("failed to apply pragmas: %w", err))
	}

	c.logger.Debug("connection opened", "name", c.name, "path", path)
	return c, nil
}

// applyPragmas runs the configured pragmas, discarding any rows.
func (c *Conn) applyPragmas(pragmas []string) error {
	ctx := context.Background()
	for _, pragma := range pragmas {
		rows, err := c.raw.QueryContext(ctx, pragma, nil)
		if err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
		err = drain(rows)
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func drain(rows driver.Rows) error {
	dest := make([]driver.Value, len(rows.Columns()))
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Name returns the logical connection name.
func (c *Conn) Name() string { return c.name }

// Path returns the location the connection was opened with.
func (c *Conn) Path() string { return c.path }

// Logger returns the logger the connection was opened with.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// HookRegistered reports whether the engine-level update hook is
// currently installed on the handle.
func (c *Conn) HookRegistered() bool { return c.hookOn.Load() }

// Do runs fn with exclusive access to the connection.
// Fails with NOT_OPEN if the connection has been closed.
func (c *Conn) Do(ctx context.Context, fn func(*Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return sqlerr.NewNotOpenError(c.name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&Session{conn: c, ctx: ctx})
}

// Execute runs possibly multi-statement sql under the connection lock.
// See Session.Execute.
func (c *Conn) Execute(ctx context.Context, sql string, params []any, mode Mode) (*Result, error) {
	var res *Result
	err := c.Do(ctx, func(s *Session) error {
		var err error
		res, err = s.Execute(sql, params, mode)
		return err
	})
	return res, err
}

// Close finalizes the handle. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.onChange != nil {
		c.raw.RegisterUpdateHook(nil)
		c.onChange = nil
		c.hookOn.Store(false)
	}
	if c.onCommit != nil {
		c.raw.RegisterCommitHook(nil)
		c.onCommit = nil
	}
	if c.onRollback != nil {
		c.raw.RegisterRollbackHook(nil)
		c.onRollback = nil
	}
	c.pending = nil

	if c.counters != nil {
		c.counters.Close()
		c.counters = nil
	}

	if err := c.raw.Close(); err != nil {
		return fmt.Errorf("failed to close database %s: %w", c.name, err)
	}
	c.logger.Debug("connection closed", "name", c.name)
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
