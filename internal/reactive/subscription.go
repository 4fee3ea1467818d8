package reactive

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// Discriminator selects the changes that make a subscription re-run: any
// change to Table when IDs is empty, otherwise only changes to those
// rowids.
type Discriminator struct {
	Table string  `json:"table" yaml:"table"`
	IDs   []int64 `json:"ids,omitempty" yaml:"ids,omitempty"`
}

func (d Discriminator) matches(ev store.ChangeEvent) bool {
	if !value.SameName(d.Table, ev.Table) {
		return false
	}
	return len(d.IDs) == 0 || slices.Contains(d.IDs, ev.RowID)
}

// ResultFunc receives a fresh result set, or the error that re-running
// the query produced.
type ResultFunc func(*store.Result, error)

// Query describes a subscription.
type Query struct {
	SQL      string
	Args     []any
	FireOn   []Discriminator
	Callback ResultFunc
}

// Subscription is one live reactive query.
type Subscription struct {
	id       string
	hub      *Hub
	stmt     *store.Statement
	fireOn   []Discriminator
	callback ResultFunc
}

// ID returns the subscription's unique identifier.
func (sub *Subscription) ID() string { return sub.id }

// matches reports whether ev should re-run sub. A subscription without
// discriminators never fires.
func (sub *Subscription) matches(ev store.ChangeEvent) bool {
	for _, d := range sub.fireOn {
		if d.matches(ev) {
			return true
		}
	}
	return false
}

// Subscribe prepares and binds q.SQL on a statement owned by the new
// subscription and registers it. The query does not run until a
// matching change happens.
func (h *Hub) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if q.Callback == nil {
		return nil, fmt.Errorf("reactive query requires a callback")
	}
	args, err := value.ToNativeAll(q.Args)
	if err != nil {
		return nil, err
	}

	fireOn := make([]Discriminator, len(q.FireOn))
	for i, d := range q.FireOn {
		fireOn[i] = Discriminator{Table: d.Table, IDs: slices.Clone(d.IDs)}
	}

	sub := &Subscription{
		id:       h.ids.Generate(),
		hub:      h,
		fireOn:   fireOn,
		callback: q.Callback,
	}

	err = h.conn.Do(ctx, func(s *store.Session) error {
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			return sqlerr.NewNotOpenError(h.conn.Name())
		}

		stmt, err := s.Prepare(q.SQL)
		if err != nil {
			return err
		}
		stmt.Bind(args)
		sub.stmt = stmt

		h.mu.Lock()
		h.subs = append(h.subs, sub)
		h.mu.Unlock()

		h.Sync(s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("reactive query subscribed",
		"name", h.conn.Name(),
		"subscription", sub.id,
		"fire_on", len(fireOn),
	)
	return sub, nil
}

// Unsubscribe removes sub and finalizes its statement. Idempotent.
func (sub *Subscription) Unsubscribe() {
	h := sub.hub
	if !h.remove(sub) {
		return
	}

	err := h.conn.Do(context.Background(), func(s *store.Session) error {
		sub.stmt.Close()
		h.Sync(s)
		return nil
	})
	if err != nil {
		h.logger.Debug("unsubscribe on closed connection", "name", h.conn.Name(), "subscription", sub.id)
	}
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := slices.Index(h.subs, sub)
	if i < 0 {
		return false
	}
	h.subs = slices.Delete(h.subs, i, i+1)
	return true
}

// refresh re-runs sub's statement and hands the outcome to the host.
func (h *Hub) refresh(s *store.Session, sub *Subscription) {
	res, err := h.rerun(s, sub)
	if err != nil {
		err = sqlerr.Map(sqlerr.OpReactive, h.conn.Name(), err)
		h.logger.Warn("reactive query failed",
			"name", h.conn.Name(),
			"subscription", sub.id,
			"error", err,
		)
	}
	cb := sub.callback
	h.invoke(func() { cb(res, err) })
}

// rerun reports a panic while stepping as a STEP error.
func (h *Hub) rerun(s *store.Session, sub *Subscription) (res *store.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, sqlerr.NewStepError(fmt.Sprintf("reactive query aborted: %v", r))
		}
	}()
	return s.Run(sub.stmt, store.ModeRows)
}
