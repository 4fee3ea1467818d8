package bridge

import (
	"context"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

// PreparedStatement is a statement compiled once and run many times.
// All work happens under the owning connection's lock; once the
// connection closes every method fails with NOT_OPEN.
type PreparedStatement struct {
	id   string
	name string
	conn *store.Conn
	stmt *store.Statement
}

// PrepareStatement compiles sql on name.
func (b *Bridge) PrepareStatement(ctx context.Context, name, sql string) (*PreparedStatement, error) {
	conn, err := b.conn(name)
	if err != nil {
		return nil, sqlerr.Map(sqlerr.OpPrepare, name, err)
	}

	var stmt *store.Statement
	err = conn.Do(ctx, func(s *store.Session) error {
		var err error
		stmt, err = s.Prepare(sql)
		return err
	})
	if err != nil {
		return nil, sqlerr.Map(sqlerr.OpPrepare, name, err)
	}
	return &PreparedStatement{id: b.ids.Generate(), name: name, conn: conn, stmt: stmt}, nil
}

// ID returns the statement's unique identifier.
func (p *PreparedStatement) ID() string { return p.id }

// SQL returns the statement text.
func (p *PreparedStatement) SQL() string { return p.stmt.SQL() }

// Bind replaces the statement's parameters.
func (p *PreparedStatement) Bind(ctx context.Context, params []any) error {
	vals, err := value.ToNativeAll(params)
	if err != nil {
		return sqlerr.Map(sqlerr.OpPrepare, p.name, err)
	}
	err = p.conn.Do(ctx, func(*store.Session) error {
		p.stmt.Bind(vals)
		return nil
	})
	return sqlerr.Map(sqlerr.OpPrepare, p.name, err)
}

// Execute steps the statement to completion with its current bindings.
func (p *PreparedStatement) Execute(ctx context.Context) (*store.Result, error) {
	var res *store.Result
	err := p.conn.Do(ctx, func(s *store.Session) error {
		var err error
		res, err = s.Run(p.stmt, store.ModeRows)
		return err
	})
	if err != nil {
		return nil, sqlerr.Map(sqlerr.OpExecute, p.name, err)
	}
	return res, nil
}

// Close finalizes the statement. Idempotent.
func (p *PreparedStatement) Close(ctx context.Context) error {
	err := p.conn.Do(ctx, func(*store.Session) error {
		return p.stmt.Close()
	})
	if sqlerr.IsNotOpenError(err) {
		return nil
	}
	return sqlerr.Map(sqlerr.OpPrepare, p.name, err)
}
