package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/sqlbridge/internal/host"
	"github.com/roach88/sqlbridge/internal/pool"
	"github.com/roach88/sqlbridge/internal/reactive"
	"github.com/roach88/sqlbridge/internal/registry"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
)

// OpenOptions configures Open. See registry.Options.
type OpenOptions = registry.Options

// Bridge wires registry, pool, host loop and reactive hubs together.
type Bridge struct {
	reg    *registry.Registry
	pool   *pool.Pool
	loop   *host.Loop
	ids    reactive.IDGenerator
	logger *slog.Logger

	workers int

	mu   sync.Mutex
	hubs map[string]*reactive.Hub
	txs  map[string]*fifoLock
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used by every component. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithWorkers sets the pool size. Default: runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(b *Bridge) {
		b.workers = n
	}
}

// WithLoop uses l as the host loop instead of creating one.
func WithLoop(l *host.Loop) Option {
	return func(b *Bridge) {
		b.loop = l
	}
}

// WithIDGenerator sets the source of subscription and statement ids.
// Default: reactive.UUIDv7Generator.
func WithIDGenerator(g reactive.IDGenerator) Option {
	return func(b *Bridge) {
		b.ids = g
	}
}

// New creates a Bridge resolving relative locations under baseDir.
// The host loop does not deliver until Run is called.
func New(baseDir string, opts ...Option) *Bridge {
	b := &Bridge{
		ids:    reactive.UUIDv7Generator{},
		logger: slog.Default(),
		hubs:   make(map[string]*reactive.Hub),
		txs:    make(map[string]*fifoLock),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.loop == nil {
		b.loop = host.New(host.WithLogger(b.logger))
	}
	b.pool = pool.New(b.workers, pool.WithLogger(b.logger))
	b.reg = registry.New(baseDir, registry.WithLogger(b.logger))
	b.reg.OnClose(b.dropHub)
	return b
}

// Loop returns the host loop results are delivered on.
func (b *Bridge) Loop() *host.Loop { return b.loop }

// Registry returns the underlying connection registry.
func (b *Bridge) Registry() *registry.Registry { return b.reg }

// Run drives the host loop until ctx is cancelled or Shutdown is called.
func (b *Bridge) Run(ctx context.Context) error {
	return b.loop.Run(ctx)
}

// Open registers and opens name.
func (b *Bridge) Open(name string, opts OpenOptions) error {
	_, err := b.reg.Open(name, opts)
	return sqlerr.Map(sqlerr.OpOpen, name, err)
}

// Close tears down reactive state for name, then closes it.
func (b *Bridge) Close(name string) error {
	b.dropHub(name)
	return sqlerr.Map(sqlerr.OpClose, name, b.reg.Close(name))
}

// Remove closes name if open and deletes its file under location.
func (b *Bridge) Remove(name, location string) error {
	b.dropHub(name)
	return sqlerr.Map(sqlerr.OpRemove, name, b.reg.Remove(name, location))
}

// Attach attaches secondaryName (under secondaryLocation) to name as alias.
func (b *Bridge) Attach(ctx context.Context, name, secondaryLocation, secondaryName, alias string) error {
	err := b.reg.Attach(ctx, name, secondaryLocation, secondaryName, alias)
	return sqlerr.Map(sqlerr.OpAttach, name, err)
}

// Detach detaches alias from name.
func (b *Bridge) Detach(ctx context.Context, name, alias string) error {
	return sqlerr.Map(sqlerr.OpDetach, name, b.reg.Detach(ctx, name, alias))
}

// LoadExtension loads a native extension into name. An empty entryPoint
// uses the engine's conventional symbol.
func (b *Bridge) LoadExtension(ctx context.Context, name, path, entryPoint string) error {
	err := b.reg.LoadExtension(ctx, name, registry.Extension{Path: path, EntryPoint: entryPoint})
	return sqlerr.Map(sqlerr.OpLoadExtension, name, err)
}

// GetDbPath resolves where name would live under location.
func (b *Bridge) GetDbPath(name, location string) (string, error) {
	path, err := b.reg.Path(name, location)
	return path, sqlerr.Map(sqlerr.OpOpen, name, err)
}

// Names lists the open databases.
func (b *Bridge) Names() []string { return b.reg.Names() }

// hub returns the reactive hub for name, creating it on first use. The
// registry is consulted again under b.mu so a Close racing with the
// first lookup cannot leave a hub bound to a finalized connection.
func (b *Bridge) hub(name string) (*reactive.Hub, error) {
	if _, err := b.reg.Get(name); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	conn, err := b.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if conn.Closed() {
		return nil, sqlerr.NewNotOpenError(name)
	}
	if h, ok := b.hubs[name]; ok {
		if h.Conn() == conn {
			return h, nil
		}
		delete(b.hubs, name)
		h.Close()
	}
	h := reactive.NewHub(conn, b.loop.Invoke,
		reactive.WithLogger(b.logger),
		reactive.WithIDGenerator(b.ids),
	)
	b.hubs[name] = h
	return h, nil
}

func (b *Bridge) dropHub(name string) {
	b.mu.Lock()
	h, ok := b.hubs[name]
	delete(b.hubs, name)
	b.mu.Unlock()
	if ok {
		h.Close()
	}
}

// Invalidate tears down the host context: pending deliveries are
// dropped, queued background tasks are discarded and running ones are
// waited for. Call Revalidate before using async operations again.
func (b *Bridge) Invalidate() {
	b.loop.Invalidate()
	dropped := b.pool.Restart()
	b.logger.Info("bridge invalidated", "dropped_tasks", dropped)
}

// Revalidate re-enables delivery after Invalidate.
func (b *Bridge) Revalidate() {
	b.loop.Revalidate()
}

// Shutdown finishes queued background work, closes every connection and
// stops the host loop.
func (b *Bridge) Shutdown() error {
	var result *multierror.Error

	b.pool.Close()

	b.mu.Lock()
	names := make([]string, 0, len(b.hubs))
	for name := range b.hubs {
		names = append(names, name)
	}
	b.mu.Unlock()
	for _, name := range names {
		b.dropHub(name)
	}

	if err := b.reg.CloseAll(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close databases: %w", err))
	}
	b.loop.Stop()

	b.logger.Info("bridge shut down")
	return result.ErrorOrNil()
}

// conn looks up name, mapping a miss to NOT_OPEN.
func (b *Bridge) conn(name string) (*store.Conn, error) {
	return b.reg.Get(name)
}
