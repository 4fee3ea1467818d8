package store

import (
	"database/sql/driver"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlbridge/internal/value"
)

// Statement is one compiled query bound to a Conn.
//
// Statements are not safe for concurrent use; step and close them only
// inside Conn.Do on the connection that prepared them.
type Statement struct {
	sql    string
	stmt   *sqlite3.SQLiteStmt
	params []value.Value
	closed bool

	// plain re-reads rows without the driver's declared-type rewrites.
	plain      *sqlite3.SQLiteStmt
	plainTried bool
}

// SQL returns the text the statement was prepared from.
func (st *Statement) SQL() string { return st.sql }

// NumInput returns the number of placeholders in the statement.
func (st *Statement) NumInput() int {
	if st.closed {
		return 0
	}
	return st.stmt.NumInput()
}

// Bind replaces any previous bindings with params (positional, 1-indexed
// at the engine). Values are copied.
func (st *Statement) Bind(params []value.Value) {
	st.params = make([]value.Value, len(params))
	for i, p := range params {
		if b, ok := p.(value.Blob); ok {
			p = value.NewBlob(b)
		}
		st.params[i] = p
	}
}

// args builds the driver arguments, truncated to the placeholder count.
// Variants the driver cannot bind become NULL.
func (st *Statement) args() []driver.NamedValue {
	n := min(len(st.params), st.stmt.NumInput())
	out := make([]driver.NamedValue, n)
	for i := 0; i < n; i++ {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: value.ToDriver(st.params[i])}
	}
	return out
}

// Close finalizes the statement. Calling it more than once is a no-op.
func (st *Statement) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	if st.plain != nil {
		st.plain.Close()
	}
	return st.stmt.Close()
}

// Closed reports whether the statement has been finalized.
func (st *Statement) Closed() bool { return st.closed }
