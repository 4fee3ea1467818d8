package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/value"
)

// Session is the locked view of a Conn handed out by Conn.Do.
// It must not be retained after the closure returns.
type Session struct {
	conn *Conn
	ctx  context.Context
}

// Conn returns the connection this session holds.
func (s *Session) Conn() *Conn { return s.conn }

// Prepare compiles the first statement of sql. Malformed SQL fails with a
// PREPARE error carrying the engine's diagnostic text verbatim.
func (s *Session) Prepare(sql string) (*Statement, error) {
	if len(Split(sql)) == 0 {
		return nil, sqlerr.NewPrepareError("no SQL statement provided")
	}
	ds, err := s.conn.raw.PrepareContext(s.ctx, sql)
	if err != nil {
		return nil, sqlerr.FromEngine(sqlerr.CodePrepare, err)
	}
	return &Statement{sql: sql, stmt: ds.(*sqlite3.SQLiteStmt)}, nil
}

// Run drives stmt to completion with its current bindings and returns
// the rows in the requested shape together with the change counters.
// Buffered change events are delivered before Run returns.
func (s *Session) Run(stmt *Statement, mode Mode) (*Result, error) {
	res := &Result{}
	if err := s.run(stmt, mode, res); err != nil {
		s.flush()
		return nil, err
	}
	s.flush()
	return res, nil
}

func (s *Session) run(stmt *Statement, mode Mode, res *Result) error {
	if stmt.closed {
		return sqlerr.NewStepError("statement is finalized")
	}

	dr, err := stmt.stmt.QueryContext(s.ctx, stmt.args())
	if err != nil {
		return sqlerr.FromEngine(sqlerr.CodeBind, err)
	}
	rows := dr.(*sqlite3.SQLiteRows)

	names := rows.Columns()
	declTypes := rows.DeclTypes()
	var cols *Columns
	if mode == ModeRows && len(names) > 0 {
		cols = newColumns(names)
		res.Metadata = metadata(names, declTypes)
	}

	if mode != ModeNone && rewritesValues(declTypes) {
		plain, err := s.plainRows(stmt, len(names))
		if err != nil {
			rows.Close()
			return err
		}
		if plain != nil {
			rows.Close()
			rows = plain
		}
	}

	dest := make([]driver.Value, len(names))
	for {
		err := rows.Next(dest)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Close re-reports the step failure; the first report is kept.
			rows.Close()
			return sqlerr.FromEngine(sqlerr.CodeStep, err)
		}
		if mode == ModeNone {
			continue
		}
		vals := make([]value.Value, len(dest))
		for i, d := range dest {
			vals[i] = value.FromDriver(d)
		}
		if mode == ModeRaw {
			res.RawRows = append(res.RawRows, vals)
		} else {
			res.Rows = append(res.Rows, Row{cols: cols, values: vals})
		}
	}
	if err := rows.Close(); err != nil {
		return sqlerr.FromEngine(sqlerr.CodeStep, err)
	}

	affected, insertID, err := s.readCounters()
	if err != nil {
		return err
	}
	res.RowsAffected = affected
	res.InsertID = insertID
	return nil
}

// readCounters reads the connection-global change counters. Only
// meaningful immediately after the statement that produced them.
func (s *Session) readCounters() (int64, int64, error) {
	c := s.conn
	if c.counters == nil {
		ds, err := c.raw.PrepareContext(s.ctx, "SELECT changes(), last_insert_rowid()")
		if err != nil {
			return 0, 0, sqlerr.FromEngine(sqlerr.CodeStep, err)
		}
		c.counters = ds.(*sqlite3.SQLiteStmt)
	}

	rows, err := c.counters.QueryContext(s.ctx, nil)
	if err != nil {
		return 0, 0, sqlerr.FromEngine(sqlerr.CodeStep, err)
	}
	defer rows.Close()

	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		return 0, 0, sqlerr.FromEngine(sqlerr.CodeStep, fmt.Errorf("read change counters: %w", err))
	}
	affected, _ := dest[0].(int64)
	insertID, _ := dest[1].(int64)
	return affected, insertID, nil
}

// Execute runs every statement in sql in order, outside any transaction.
// Each statement receives params positionally; parameters beyond its
// placeholder count are ignored. The first failing statement aborts the
// rest without undoing the ones before it.
//
// Rows from all statements are collected in order. Metadata and the
// change counters describe the last statement.
func (s *Session) Execute(sql string, params []any, mode Mode) (*Result, error) {
	vals, err := value.ToNativeAll(params)
	if err != nil {
		return nil, err
	}
	return s.ExecuteValues(sql, vals, mode)
}

// ExecuteValues is Execute with already converted parameters.
func (s *Session) ExecuteValues(sql string, params []value.Value, mode Mode) (*Result, error) {
	stmts := Split(sql)
	if len(stmts) == 0 {
		return nil, sqlerr.NewPrepareError("no SQL statement provided")
	}

	total := &Result{}
	for _, text := range stmts {
		stmt, err := s.Prepare(text)
		if err != nil {
			return nil, err
		}
		stmt.Bind(params)

		res, err := s.Run(stmt, mode)
		stmt.Close()
		if err != nil {
			return nil, err
		}

		total.Rows = append(total.Rows, res.Rows...)
		total.RawRows = append(total.RawRows, res.RawRows...)
		if res.Metadata != nil {
			total.Metadata = res.Metadata
		}
		total.RowsAffected = res.RowsAffected
		total.InsertID = res.InsertID
	}
	return total, nil
}

// Exec runs sql discarding rows.
func (s *Session) Exec(sql string, params ...value.Value) (*Result, error) {
	return s.ExecuteValues(sql, params, ModeNone)
}

// InTransaction reports whether the connection has an open transaction.
func (s *Session) InTransaction() bool {
	return !s.conn.raw.AutoCommit()
}

// LoadExtension loads a native extension from path. With an empty entry
// point the engine's conventional symbols are tried: sqlite3_extension_init,
// then sqlite3_<name>_init derived from the file name.
func (s *Session) LoadExtension(path, entryPoint string) error {
	if entryPoint != "" {
		if err := s.conn.raw.LoadExtension(path, entryPoint); err != nil {
			return sqlerr.NewExtensionLoadError(path, err.Error())
		}
		return nil
	}

	err := s.conn.raw.LoadExtension(path, "sqlite3_extension_init")
	if err == nil {
		return nil
	}
	if derived := derivedEntryPoint(path); derived != "" {
		if err2 := s.conn.raw.LoadExtension(path, derived); err2 == nil {
			return nil
		}
	}
	return sqlerr.NewExtensionLoadError(path, err.Error())
}

// derivedEntryPoint mirrors the engine's fallback: take the file's base
// name, drop a leading "lib" and everything from the first '.', keep only
// letters, lower-case them.
func derivedEntryPoint(path string) string {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, "lib")
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	var b strings.Builder
	for _, r := range base {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "sqlite3_" + b.String() + "_init"
}
