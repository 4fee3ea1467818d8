package store

import (
	"strings"

	"github.com/roach88/sqlbridge/internal/value"
)

// Mode selects the result shape produced by Session.Run.
type Mode int

const (
	// ModeRows collects row objects that share one column table.
	ModeRows Mode = iota
	// ModeRaw collects row-major value arrays without metadata.
	ModeRaw
	// ModeNone discards rows.
	ModeNone
)

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name  string `json:"name" yaml:"name"`
	Index int    `json:"index" yaml:"index"`
	// Type is the declared column type upper-cased, or "UNKNOWN" for
	// expressions.
	Type string `json:"type" yaml:"type"`
}

func metadata(names, declTypes []string) []ColumnInfo {
	out := make([]ColumnInfo, len(names))
	for i, name := range names {
		typ := "UNKNOWN"
		if i < len(declTypes) && declTypes[i] != "" {
			typ = strings.ToUpper(declTypes[i])
		}
		out[i] = ColumnInfo{Name: name, Index: i, Type: typ}
	}
	return out
}

// Columns is the column table shared by every row of one statement.
type Columns struct {
	names []string
	index map[string]int
}

func newColumns(names []string) *Columns {
	c := &Columns{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		// Duplicate names resolve to the first occurrence.
		if _, ok := c.index[n]; !ok {
			c.index[n] = i
		}
	}
	return c
}

// Row is an ordered list of column values with lookup by name.
type Row struct {
	cols   *Columns
	values []value.Value
}

// NewRow builds a Row from parallel name and value slices.
func NewRow(names []string, values []value.Value) Row {
	return Row{cols: newColumns(names), values: values}
}

// Get returns the value of the named column.
func (r Row) Get(name string) (value.Value, bool) {
	if r.cols == nil {
		return nil, false
	}
	i, ok := r.cols.index[name]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Columns returns the column names in order.
func (r Row) Columns() []string {
	if r.cols == nil {
		return nil
	}
	return r.cols.names
}

// Values returns the values in column order.
func (r Row) Values() []value.Value { return r.values }

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Map converts the row to host values keyed by column name.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for i, name := range r.Columns() {
		if _, dup := out[name]; dup {
			continue
		}
		out[name] = value.FromTyped(r.values[i])
	}
	return out
}

// Result is the outcome of running one or more statements.
type Result struct {
	RowsAffected int64
	InsertID     int64
	Rows         []Row
	RawRows      [][]value.Value
	Metadata     []ColumnInfo
}

// ToMap renders the result for serialization: rowsAffected, insertId
// (only when non-zero), rows (objects, or arrays for raw results) and
// metadata when present.
func (r *Result) ToMap() map[string]any {
	out := map[string]any{"rowsAffected": r.RowsAffected}
	if r.InsertID != 0 {
		out["insertId"] = r.InsertID
	}

	rows := make([]any, 0, len(r.Rows)+len(r.RawRows))
	for _, row := range r.Rows {
		m := make(map[string]any, row.Len())
		for i, name := range row.Columns() {
			if _, dup := m[name]; !dup {
				m[name] = row.values[i]
			}
		}
		rows = append(rows, m)
	}
	for _, raw := range r.RawRows {
		rows = append(rows, raw)
	}
	out["rows"] = rows

	if r.Metadata != nil {
		meta := make([]any, len(r.Metadata))
		for i, m := range r.Metadata {
			meta[i] = map[string]any{"name": m.Name, "index": m.Index, "type": m.Type}
		}
		out["metadata"] = meta
	}
	return out
}
