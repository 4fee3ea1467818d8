// Package reactive re-runs subscribed queries when the rows they depend
// on change, and dispatches plain update-hook callbacks.
//
// Each Hub owns the change handler of one connection. The handler is
// installed only while someone listens (a subscription or an update
// callback) and removed as soon as nobody does; Sync applies that rule
// and is called after every subscribe, unsubscribe and callback change.
//
// Re-evaluation runs inline with the write that triggered it, under the
// connection lock, so a subscriber sees the state right after that
// statement. Results are handed to the host through an Invoker.
package reactive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// Invoker schedules fn on the host. It returns false when the delivery
// was dropped.
type Invoker func(fn func()) bool

// State is the registration state of the engine change hook.
type State int

const (
	NoHookRegistered State = iota
	HookRegistered
)

func (s State) String() string {
	switch s {
	case NoHookRegistered:
		return "NoHookRegistered"
	case HookRegistered:
		return "HookRegistered"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// UpdateEvent is what an update callback receives. Row holds the changed
// row re-read after the write; it is nil for deletes and when the row
// could not be read.
type UpdateEvent struct {
	Database  string
	Table     string
	Operation store.Operation
	RowID     int64
	Row       *store.Row
}

// UpdateFunc is a plain update-hook callback.
type UpdateFunc func(UpdateEvent)

// Hub is the reactive state of one connection.
type Hub struct {
	conn   *store.Conn
	invoke Invoker
	ids    IDGenerator
	logger *slog.Logger

	mu       sync.Mutex
	subs     []*Subscription
	onUpdate UpdateFunc
	state    State
	closed   bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithIDGenerator sets the subscription id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(h *Hub) {
		h.ids = g
	}
}

// NewHub creates a Hub for conn delivering through invoke.
func NewHub(conn *store.Conn, invoke Invoker, opts ...Option) *Hub {
	h := &Hub{
		conn:   conn,
		invoke: invoke,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Conn returns the connection the hub observes.
func (h *Hub) Conn() *store.Conn { return h.conn }

// State reports whether the change hook is currently registered.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SetUpdateCallback installs fn as the plain update callback; nil clears
// it. The change hook is registered or removed to match.
func (h *Hub) SetUpdateCallback(ctx context.Context, fn UpdateFunc) error {
	return h.conn.Do(ctx, func(s *store.Session) error {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return sqlerr.NewNotOpenError(h.conn.Name())
		}
		h.onUpdate = fn
		h.mu.Unlock()
		h.Sync(s)
		return nil
	})
}

// Sync registers the change hook if anyone listens and removes it if
// nobody does. Idempotent. Must run under the connection lock.
func (h *Hub) Sync(s *store.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	want := !h.closed && (len(h.subs) > 0 || h.onUpdate != nil)
	switch {
	case want && h.state == NoHookRegistered:
		s.SetChangeHandler(h.handle)
		h.state = HookRegistered
	case !want && h.state == HookRegistered:
		s.SetChangeHandler(nil)
		h.state = NoHookRegistered
	}
}

// handle is the connection change handler. It runs after each statement,
// under the connection lock.
func (h *Hub) handle(s *store.Session, ev store.ChangeEvent) {
	h.mu.Lock()
	onUpdate := h.onUpdate
	subs := make([]*Subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	if onUpdate != nil {
		h.dispatchUpdate(s, ev, onUpdate)
	}

	for _, sub := range subs {
		if !sub.matches(ev) {
			continue
		}
		h.refresh(s, sub)
	}
}

func (h *Hub) dispatchUpdate(s *store.Session, ev store.ChangeEvent, fn UpdateFunc) {
	out := UpdateEvent{
		Database:  ev.Database,
		Table:     ev.Table,
		Operation: ev.Operation,
		RowID:     ev.RowID,
	}

	if ev.Operation != store.OpDelete {
		row, err := fetchRow(s, ev)
		if err != nil {
			h.logger.Warn("update hook row fetch failed",
				"name", h.conn.Name(),
				"table", ev.Table,
				"row_id", ev.RowID,
				"error", err,
			)
		}
		out.Row = row
	}

	h.invoke(func() { fn(out) })
}

// fetchRow re-reads the changed row by rowid.
func fetchRow(s *store.Session, ev store.ChangeEvent) (*store.Row, error) {
	table := quoteIdent(ev.Table)
	if ev.Database != "" && ev.Database != "main" {
		table = quoteIdent(ev.Database) + "." + table
	}

	stmt, err := s.Prepare("SELECT * FROM " + table + " WHERE rowid = ?")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	stmt.Bind([]value.Value{value.Int(ev.RowID)})

	res, err := s.Run(stmt, store.ModeRows)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return &res.Rows[0], nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Close drops every subscription, finalizes their statements and removes
// the change hook. Safe to call after the connection has closed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = nil
	h.onUpdate = nil
	h.mu.Unlock()

	err := h.conn.Do(context.Background(), func(s *store.Session) error {
		for _, sub := range subs {
			sub.stmt.Close()
		}
		h.Sync(s)
		return nil
	})
	if err != nil {
		// Connection already closed: its statements went with it.
		h.mu.Lock()
		h.state = NoHookRegistered
		h.mu.Unlock()
	}
	h.logger.Debug("reactive hub closed", "name", h.conn.Name(), "subscriptions", len(subs))
}
