package value

import "golang.org/x/text/cases"

// FoldName case-folds an identifier. The engine treats table names
// case-insensitively, so discriminators compare folded names.
//
// A Caser is stateful, so each call builds its own.
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// SameName reports whether two identifiers name the same table.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}
