package bridge

import (
	"context"

	"github.com/roach88/sqlbridge/internal/reactive"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
)

// UpdateHook installs fn as name's update callback; nil removes it.
// Callbacks run on the host loop.
func (b *Bridge) UpdateHook(ctx context.Context, name string, fn reactive.UpdateFunc) error {
	h, err := b.hub(name)
	if err != nil {
		return sqlerr.Map(sqlerr.OpExecute, name, err)
	}
	return sqlerr.Map(sqlerr.OpExecute, name, h.SetUpdateCallback(ctx, fn))
}

// CommitHook installs fn to run on the host loop after each commit on
// name; nil removes it.
func (b *Bridge) CommitHook(ctx context.Context, name string, fn func()) error {
	return b.setTxHook(ctx, name, fn, (*store.Session).SetCommitHook)
}

// RollbackHook installs fn to run on the host loop after each rollback on
// name; nil removes it.
func (b *Bridge) RollbackHook(ctx context.Context, name string, fn func()) error {
	return b.setTxHook(ctx, name, fn, (*store.Session).SetRollbackHook)
}

func (b *Bridge) setTxHook(ctx context.Context, name string, fn func(), set func(*store.Session, func())) error {
	conn, err := b.conn(name)
	if err != nil {
		return sqlerr.Map(sqlerr.OpExecute, name, err)
	}

	var hook func()
	if fn != nil {
		invoke := b.loop.Invoke
		hook = func() { invoke(fn) }
	}
	err = conn.Do(ctx, func(s *store.Session) error {
		set(s, hook)
		return nil
	})
	return sqlerr.Map(sqlerr.OpExecute, name, err)
}

// ReactiveExecute subscribes q on name. The returned function
// unsubscribes; calling it more than once is harmless.
func (b *Bridge) ReactiveExecute(ctx context.Context, name string, q reactive.Query) (func(), error) {
	h, err := b.hub(name)
	if err != nil {
		return nil, sqlerr.Map(sqlerr.OpReactive, name, err)
	}
	sub, err := h.Subscribe(ctx, q)
	if err != nil {
		return nil, sqlerr.Map(sqlerr.OpReactive, name, err)
	}
	return sub.Unsubscribe, nil
}
