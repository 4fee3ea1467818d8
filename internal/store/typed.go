package store

import (
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// The driver rewrites INTEGER and TEXT values read from columns declared
// with these types (lower-cased, exact match) into time.Time or bool.
var rewrittenDeclTypes = map[string]bool{
	"date":      true,
	"datetime":  true,
	"timestamp": true,
	"boolean":   true,
}

func rewritesValues(declTypes []string) bool {
	for _, dt := range declTypes {
		if rewrittenDeclTypes[dt] {
			return true
		}
	}
	return false
}

// plainQueryName is the CTE wrapping a statement in plainSQL.
const plainQueryName = `"__sqlbridge_plain"`

// plainSQL wraps the first statement of sql so that every result column
// loses its declared type: each column is re-selected through the unary
// +, which returns its operand unchanged. The driver then hands values
// back in their storage class. Only queries (SELECT, WITH, VALUES) can be
// wrapped.
func plainSQL(sql string, columns int) (string, bool) {
	stmts := Split(sql)
	if len(stmts) == 0 || columns == 0 {
		return "", false
	}
	body := strings.TrimRight(stmts[0], "; \t\r\n")
	switch leadingKeyword(body) {
	case "SELECT", "WITH", "VALUES":
	default:
		return "", false
	}

	names := make([]string, columns)
	exprs := make([]string, columns)
	for i := range columns {
		names[i] = fmt.Sprintf("c%d", i)
		exprs[i] = "+" + names[i]
	}
	return fmt.Sprintf("WITH %s(%s) AS (\n%s\n) SELECT %s FROM %s",
		plainQueryName, strings.Join(names, ", "), body, strings.Join(exprs, ", "), plainQueryName), true
}

// leadingKeyword returns the first word of sql, upper-cased, skipping
// whitespace and comments.
func leadingKeyword(sql string) string {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n\f")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}
			s = s[i+4:]
		default:
			n := 0
			for n < len(s) && isIDChar(s[n]) {
				n++
			}
			return strings.ToUpper(s[:n])
		}
	}
}

// plainRows queries the plain form of stmt with the same bindings, or
// returns nil when stmt cannot be wrapped. The plain statement is
// prepared once and kept with stmt.
func (s *Session) plainRows(stmt *Statement, columns int) (*sqlite3.SQLiteRows, error) {
	if stmt.plain == nil {
		if stmt.plainTried {
			return nil, nil
		}
		stmt.plainTried = true

		text, ok := plainSQL(stmt.sql, columns)
		if !ok {
			return nil, nil
		}
		ds, err := s.conn.raw.PrepareContext(s.ctx, text)
		if err != nil {
			// Not wrappable after all (e.g. a DML body); read through the driver.
			s.conn.logger.Debug("plain read unavailable", "name", s.conn.name, "error", err)
			return nil, nil
		}
		stmt.plain = ds.(*sqlite3.SQLiteStmt)
	}

	dr, err := stmt.plain.QueryContext(s.ctx, stmt.args())
	if err != nil {
		return nil, sqlerr.FromEngine(sqlerr.CodeBind, err)
	}
	return dr.(*sqlite3.SQLiteRows), nil
}
