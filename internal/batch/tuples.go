package batch

import "fmt"

// Tuple is the host-facing batch entry: SQL plus either one parameter list
// or a list of parameter lists.
type Tuple struct {
	SQL    string `yaml:"sql" json:"sql"`
	Params any    `yaml:"params,omitempty" json:"params,omitempty"`
}

// FromTuples expands tuples into commands. A tuple whose params is a list
// of lists yields one command per inner list; nil params yield a single
// command without parameters.
func FromTuples(tuples []Tuple) ([]Command, error) {
	var out []Command
	for i, t := range tuples {
		switch p := t.Params.(type) {
		case nil:
			out = append(out, Command{SQL: t.SQL})
		case []any:
			if len(p) > 0 && allLists(p) {
				for _, inner := range p {
					out = append(out, Command{SQL: t.SQL, Params: inner.([]any)})
				}
				continue
			}
			out = append(out, Command{SQL: t.SQL, Params: p})
		case [][]any:
			for _, inner := range p {
				out = append(out, Command{SQL: t.SQL, Params: inner})
			}
		default:
			return nil, fmt.Errorf("tuple %d: params must be a list, got %T", i, t.Params)
		}
	}
	return out, nil
}

func allLists(items []any) bool {
	for _, it := range items {
		if _, ok := it.([]any); !ok {
			return false
		}
	}
	return true
}
