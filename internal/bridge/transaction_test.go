package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/value"
)

func countRows(t *testing.T, b *Bridge, name string) int64 {
	t.Helper()
	res, err := b.Execute(context.Background(), name, "SELECT COUNT(*) AS n FROM a", nil)
	require.NoError(t, err)
	n, _ := res.Rows[0].Get("n")
	return int64(n.(value.Int))
}

func TestTransaction_CommitsOnSuccess(t *testing.T) {
	b := newTestBridge(t)
	openMemory(t, b, "t1")

	err := b.Transaction(context.Background(), "t1", func(tx *Tx) error {
		res, err := tx.Execute("INSERT INTO a(v) VALUES (?)", "x")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), res.InsertID)
		_, err = tx.Execute("INSERT INTO a(v) VALUES (?)", "y")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), countRows(t, b, "t1"))
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	b := newTestBridge(t)
	openMemory(t, b, "t1")

	boom := errors.New("boom")
	err := b.Transaction(context.Background(), "t1", func(tx *Tx) error {
		if _, err := tx.Execute("INSERT INTO a(v) VALUES ('x')"); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), countRows(t, b, "t1"))
}

func TestTransaction_RollsBackOnPanic(t *testing.T) {
	b := newTestBridge(t)
	openMemory(t, b, "t1")

	err := b.Transaction(context.Background(), "t1", func(tx *Tx) error {
		_, _ = tx.Execute("INSERT INTO a(v) VALUES ('x')")
		panic("kaboom")
	})
	require.Error(t, err)
	assert.True(t, sqlerr.IsStepError(err))
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, int64(0), countRows(t, b, "t1"))
}

func TestTransaction_FinalizedGuard(t *testing.T) {
	b := newTestBridge(t)
	openMemory(t, b, "t1")

	var afterCommit, secondCommit, afterRollback error
	err := b.Transaction(context.Background(), "t1", func(tx *Tx) error {
		if _, err := tx.Execute("INSERT INTO a(v) VALUES ('x')"); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		_, afterCommit = tx.Execute("INSERT INTO a(v) VALUES ('y')")
		secondCommit = tx.Commit()
		afterRollback = tx.Rollback()
		return nil
	})
	require.NoError(t, err)

	assert.True(t, sqlerr.IsTransactionFinalizedError(afterCommit))
	assert.Contains(t, afterCommit.Error(), "cannot execute query on finalized transaction: t1")
	assert.True(t, sqlerr.IsTransactionFinalizedError(secondCommit))
	assert.True(t, sqlerr.IsTransactionFinalizedError(afterRollback))
	assert.Equal(t, int64(1), countRows(t, b, "t1"))
}

func TestTransaction_ExplicitRollback(t *testing.T) {
	b := newTestBridge(t)
	openMemory(t, b, "t1")

	err := b.Transaction(context.Background(), "t1", func(tx *Tx) error {
		if _, err := tx.Execute("INSERT INTO a(v) VALUES ('x')"); err != nil {
			return err
		}
		return tx.Rollback()
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), countRows(t, b, "t1"))
}

func TestTransaction_Serialized(t *testing.T) {
	b := newTestBridge(t)
	openMemory(t, b, "t1")

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Transaction(context.Background(), "t1", func(tx *Tx) error {
				mu.Lock()
				inside++
				maxInside = max(maxInside, inside)
				mu.Unlock()

				_, err := tx.Execute("INSERT INTO a(v) VALUES (?)", i)
				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, int64(8), countRows(t, b, "t1"))
}

func TestTransaction_UnknownDatabase(t *testing.T) {
	b := newTestBridge(t)
	err := b.Transaction(context.Background(), "ghost", func(*Tx) error { return nil })
	assert.True(t, sqlerr.IsNotOpenError(err))
}

func TestFIFOLock_GrantsInArrivalOrder(t *testing.T) {
	var l fifoLock
	require.NoError(t, l.Lock(context.Background()))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Lock(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Unlock()
		}()
		// Let each waiter queue before the next one starts.
		waitForWaiters(t, &l, i+1)
	}

	l.Unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func waitForWaiters(t *testing.T, l *fifoLock, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.waiters) == n
	}, time.Second, time.Millisecond)
}

func TestFIFOLock_ContextCancel(t *testing.T) {
	var l fifoLock
	require.NoError(t, l.Lock(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Lock(ctx) }()
	waitForWaiters(t, &l, 1)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	l.Unlock()

	// The lock is free again.
	require.NoError(t, l.Lock(context.Background()))
	l.Unlock()
}
