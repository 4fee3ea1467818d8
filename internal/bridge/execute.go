package bridge

import (
	"context"

	"github.com/roach88/sqlbridge/internal/batch"
	"github.com/roach88/sqlbridge/internal/host"
	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// Execute runs sql (possibly several statements) on name and returns row
// objects with column metadata.
func (b *Bridge) Execute(ctx context.Context, name, sql string, params []any) (*store.Result, error) {
	res, err := b.execute(ctx, name, sql, params, store.ModeRows)
	return res, sqlerr.Map(sqlerr.OpExecute, name, err)
}

// ExecuteRaw is Execute returning row-major arrays without metadata.
func (b *Bridge) ExecuteRaw(ctx context.Context, name, sql string, params []any) (*store.Result, error) {
	res, err := b.execute(ctx, name, sql, params, store.ModeRaw)
	return res, sqlerr.Map(sqlerr.OpExecuteRaw, name, err)
}

func (b *Bridge) execute(ctx context.Context, name, sql string, params []any, mode store.Mode) (*store.Result, error) {
	vals, err := value.ToNativeAll(params)
	if err != nil {
		return nil, err
	}
	return b.executeValues(ctx, name, sql, vals, mode)
}

func (b *Bridge) executeValues(ctx context.Context, name, sql string, vals []value.Value, mode store.Mode) (*store.Result, error) {
	conn, err := b.conn(name)
	if err != nil {
		return nil, err
	}
	var res *store.Result
	err = conn.Do(ctx, func(s *store.Session) error {
		var err error
		res, err = s.ExecuteValues(sql, vals, mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteAsync runs Execute on the worker pool.
func (b *Bridge) ExecuteAsync(name, sql string, params []any) *host.Deferred[*store.Result] {
	return b.executeAsync(sqlerr.OpExecute, name, sql, params, store.ModeRows)
}

// ExecuteRawAsync runs ExecuteRaw on the worker pool.
func (b *Bridge) ExecuteRawAsync(name, sql string, params []any) *host.Deferred[*store.Result] {
	return b.executeAsync(sqlerr.OpExecuteRaw, name, sql, params, store.ModeRaw)
}

func (b *Bridge) executeAsync(op, name, sql string, params []any, mode store.Mode) *host.Deferred[*store.Result] {
	d := host.NewDeferred[*store.Result](b.loop)

	// Converting here copies every parameter; the task holds no caller
	// references.
	vals, err := value.ToNativeAll(params)
	if err != nil {
		d.Reject(sqlerr.Map(op, name, err))
		return d
	}

	b.submit(op, name, d.Reject, func() {
		res, err := b.executeValues(context.Background(), name, sql, vals, mode)
		if err != nil {
			d.Reject(sqlerr.Map(op, name, err))
			return
		}
		d.Resolve(res)
	})
	return d
}

// ExecuteBatch runs commands on name in one exclusive transaction.
func (b *Bridge) ExecuteBatch(ctx context.Context, name string, commands []batch.Command) (batch.Result, error) {
	res, err := b.executeBatch(ctx, name, commands)
	return res, sqlerr.Map(sqlerr.OpExecuteBatch, name, err)
}

func (b *Bridge) executeBatch(ctx context.Context, name string, commands []batch.Command) (batch.Result, error) {
	conn, err := b.conn(name)
	if err != nil {
		return batch.Result{}, err
	}
	return batch.Execute(ctx, conn, commands)
}

// ExecuteBatchAsync runs ExecuteBatch on the worker pool.
func (b *Bridge) ExecuteBatchAsync(name string, commands []batch.Command) *host.Deferred[batch.Result] {
	const op = sqlerr.OpExecuteBatch
	d := host.NewDeferred[batch.Result](b.loop)

	if len(commands) == 0 {
		d.Reject(sqlerr.Map(op, name, sqlerr.NewEmptyBatchError()))
		return d
	}
	snapshot, err := snapshotCommands(commands)
	if err != nil {
		d.Reject(sqlerr.Map(op, name, err))
		return d
	}

	b.submit(op, name, d.Reject, func() {
		res, err := b.executeBatch(context.Background(), name, snapshot)
		if err != nil {
			d.Reject(sqlerr.Map(op, name, err))
			return
		}
		d.Resolve(res)
	})
	return d
}

// snapshotCommands converts every parameter up front so the batch owns
// copies of its inputs.
func snapshotCommands(commands []batch.Command) ([]batch.Command, error) {
	out := make([]batch.Command, len(commands))
	for i, cmd := range commands {
		vals, err := value.ToNativeAll(cmd.Params)
		if err != nil {
			return nil, err
		}
		params := make([]any, len(vals))
		for j, v := range vals {
			params[j] = v
		}
		out[i] = batch.Command{SQL: cmd.SQL, Params: params}
	}
	return out, nil
}

// LoadFile executes the newline-delimited statements in path inside one
// transaction, on the worker pool.
func (b *Bridge) LoadFile(name, path string) *host.Deferred[batch.LoadResult] {
	const op = sqlerr.OpLoadFile
	d := host.NewDeferred[batch.LoadResult](b.loop)

	b.submit(op, name, d.Reject, func() {
		conn, err := b.conn(name)
		if err != nil {
			d.Reject(sqlerr.Map(op, name, err))
			return
		}
		res, err := batch.LoadFile(context.Background(), conn, path)
		if err != nil {
			d.Reject(sqlerr.Map(op, name, err))
			return
		}
		d.Resolve(res)
	})
	return d
}

// submit queues task, rejecting through reject if the pool is closed.
func (b *Bridge) submit(op, name string, reject func(error) bool, task func()) {
	if !b.pool.Queue(task) {
		reject(sqlerr.Map(op, name, sqlerr.NewInvalidatedError()))
	}
}
