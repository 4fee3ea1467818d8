// Package registry maps logical database names to open connections and
// owns their lifecycle: open, close, remove, attach, detach.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
)

// dirPermissions is the permission mode for created database directories.
const dirPermissions = 0o750

// Extension is a native extension loaded right after open.
type Extension struct {
	Path       string `yaml:"path" json:"path"`
	EntryPoint string `yaml:"entry_point,omitempty" json:"entry_point,omitempty"`
}

// Options control how Open resolves and prepares a connection.
type Options struct {
	// Location is a directory: absolute, relative to the base directory,
	// or ":memory:". Empty means the base directory.
	Location string

	// Memory forces a private in-memory database regardless of Location.
	Memory bool

	// EncryptionKey requests an encrypted database. No cipher is linked
	// into this build, so a non-empty key fails with OPEN.
	EncryptionKey string

	Extensions []Extension

	// Pragmas override the store defaults when non-nil.
	Pragmas []string
}

// CloseFunc is notified after a connection is closed or removed.
type CloseFunc func(name string)

// Registry is the process-wide name -> connection map.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*store.Conn
	baseDir string
	logger  *slog.Logger

	listenersMu sync.Mutex
	listeners   []CloseFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates an empty registry resolving relative locations under baseDir.
func New(baseDir string, opts ...Option) *Registry {
	r := &Registry{
		conns:   make(map[string]*store.Conn),
		baseDir: baseDir,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BaseDir returns the directory relative locations resolve under.
func (r *Registry) BaseDir() string { return r.baseDir }

// OnClose registers fn to run after every Close or Remove.
func (r *Registry) OnClose(fn CloseFunc) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notifyClosed(name string) {
	r.listenersMu.Lock()
	listeners := append([]CloseFunc(nil), r.listeners...)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(name)
	}
}

// Path resolves the file backing name at location, creating missing
// directories. ":memory:" resolves to itself and touches nothing.
func (r *Registry) Path(name, location string) (string, error) {
	if location == store.MemoryPath || name == store.MemoryPath {
		return store.MemoryPath, nil
	}
	dir := location
	if dir == "" {
		dir = r.baseDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.baseDir, dir)
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("creating database directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// Open registers a new connection under name. Fails with OPEN if the name
// is already registered or the engine cannot open the file.
func (r *Registry) Open(name string, opts Options) (*store.Conn, error) {
	if name == "" {
		return nil, sqlerr.NewOpenError("database name is required")
	}
	if opts.EncryptionKey != "" {
		return nil, sqlerr.NewOpenError("encryption is not supported by the linked engine")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[name]; ok {
		return nil, sqlerr.NewOpenError(fmt.Sprintf("database %s is already open", name))
	}

	location := opts.Location
	if opts.Memory {
		location = store.MemoryPath
	}
	path, err := r.Path(name, location)
	if err != nil {
		return nil, sqlerr.NewOpenError(err.Error())
	}

	storeOpts := []store.Option{store.WithName(name), store.WithLogger(r.logger)}
	if opts.Pragmas != nil {
		storeOpts = append(storeOpts, store.WithPragmas(opts.Pragmas...))
	}
	conn, err := store.Open(path, storeOpts...)
	if err != nil {
		return nil, err
	}

	for _, ext := range opts.Extensions {
		if err := loadExtension(conn, ext); err != nil {
			conn.Close()
			return nil, err
		}
	}

	r.conns[name] = conn
	r.logger.Info("database opened", "name", name, "path", path)
	return conn, nil
}

// Get returns the connection registered under name or NOT_OPEN.
func (r *Registry) Get(name string) (*store.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[name]
	if !ok {
		return nil, sqlerr.NewNotOpenError(name)
	}
	return conn, nil
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for n := range r.conns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close unregisters and finalizes name. Closing an unknown name fails
// with NOT_OPEN; closing twice is therefore detectable but harmless.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if !ok {
		r.mu.Unlock()
		return sqlerr.NewNotOpenError(name)
	}
	delete(r.conns, name)
	r.mu.Unlock()

	err := conn.Close()
	r.notifyClosed(name)
	r.logger.Info("database closed", "name", name)
	return err
}

// Remove closes name if it is open, then deletes its backing file at
// location. Fails with FILE_NOT_FOUND when the file does not exist.
//
// An in-memory database has no file: closing it discards its contents,
// so removing an open one succeeds and removing one that is not open
// fails with FILE_NOT_FOUND.
func (r *Registry) Remove(name, location string) error {
	r.mu.RLock()
	conn, open := r.conns[name]
	r.mu.RUnlock()
	if open {
		if err := r.Close(name); err != nil && !sqlerr.IsNotOpenError(err) {
			return err
		}
		if conn.Path() == store.MemoryPath {
			r.logger.Info("database removed", "name", name, "path", store.MemoryPath)
			return nil
		}
	}

	path, err := r.Path(name, location)
	if err != nil {
		return err
	}
	if path == store.MemoryPath {
		return sqlerr.NewFileNotFoundError(path)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return sqlerr.NewFileNotFoundError(path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(path + suffix)
	}
	r.logger.Info("database removed", "name", name, "path", path)
	return nil
}

// CloseAll closes every registered connection and aggregates failures.
func (r *Registry) CloseAll() error {
	var result *multierror.Error
	for _, name := range r.Names() {
		if err := r.Close(name); err != nil && !sqlerr.IsNotOpenError(err) {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// quoteLiteral renders s as an SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteIdent renders s as an SQL identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
