package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
)

// Tx is an open transaction handed to the Transaction callback.
type Tx struct {
	ctx       context.Context
	name      string
	conn      *store.Conn
	finalized bool
}

// Transaction runs fn inside BEGIN TRANSACTION on name. Transactions on
// the same database run one at a time, in the order they were requested.
//
// If fn returns nil and neither Commit nor Rollback was called, the
// transaction commits. If fn fails or panics it rolls back (unless
// already finalized) and the failure is returned.
func (b *Bridge) Transaction(ctx context.Context, name string, fn func(*Tx) error) error {
	err := b.transaction(ctx, name, fn)
	return sqlerr.Map(sqlerr.OpTransaction, name, err)
}

func (b *Bridge) transaction(ctx context.Context, name string, fn func(*Tx) error) (err error) {
	conn, err := b.conn(name)
	if err != nil {
		return err
	}

	lock := b.txLock(name)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	tx := &Tx{ctx: ctx, name: name, conn: conn}
	if _, err := tx.exec("BEGIN TRANSACTION"); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = sqlerr.NewStepError(fmt.Sprintf("transaction aborted: %v", r))
		}
		if err != nil && !tx.finalized {
			if rbErr := tx.Rollback(); rbErr != nil {
				b.logger.Error("transaction rollback failed", "name", name, "error", rbErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if !tx.finalized {
		return tx.Commit()
	}
	return nil
}

func (b *Bridge) txLock(name string) *fifoLock {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.txs[name]
	if !ok {
		l = &fifoLock{}
		b.txs[name] = l
	}
	return l
}

// Execute runs sql inside the transaction.
func (tx *Tx) Execute(sql string, params ...any) (*store.Result, error) {
	if tx.finalized {
		return nil, sqlerr.Map(sqlerr.OpTransaction, tx.name, sqlerr.NewTransactionFinalizedError(tx.name, "query"))
	}
	var res *store.Result
	err := tx.conn.Do(tx.ctx, func(s *store.Session) error {
		var err error
		res, err = s.Execute(sql, params, store.ModeRows)
		return err
	})
	if err != nil {
		return nil, sqlerr.Map(sqlerr.OpTransaction, tx.name, err)
	}
	return res, nil
}

// Commit commits and finalizes the transaction.
func (tx *Tx) Commit() error {
	return tx.finish("commit", "COMMIT")
}

// Rollback rolls back and finalizes the transaction.
func (tx *Tx) Rollback() error {
	return tx.finish("rollback", "ROLLBACK")
}

func (tx *Tx) finish(verb, sql string) error {
	if tx.finalized {
		return sqlerr.Map(sqlerr.OpTransaction, tx.name, sqlerr.NewTransactionFinalizedError(tx.name, verb))
	}
	tx.finalized = true
	_, err := tx.exec(sql)
	return sqlerr.Map(sqlerr.OpTransaction, tx.name, err)
}

func (tx *Tx) exec(sql string) (*store.Result, error) {
	var res *store.Result
	err := tx.conn.Do(tx.ctx, func(s *store.Session) error {
		var err error
		res, err = s.Exec(sql)
		return err
	})
	return res, err
}

// fifoLock is a mutex that grants waiters in arrival order.
type fifoLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// Lock blocks until the lock is held or ctx ends.
func (l *fifoLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Ownership was handed over while we were giving up.
		l.Unlock()
		return ctx.Err()
	}
}

// Unlock passes the lock to the oldest waiter, if any.
func (l *fifoLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
