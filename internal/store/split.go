package store

import (
	"strings"
	"unicode/utf8"
)

type token int

const (
	tkSemi token = iota
	tkWS
	tkOther
	tkExplain
	tkCreate
	tkTemp
	tkTrigger
	tkEnd
)

// completeTrans is the engine's statement-completeness automaton.
// Rows are states, columns are tokens. State 1 means "a statement just
// ended"; states 5-7 track the body of CREATE TRIGGER, which only ends at
// END followed by ';'.
var completeTrans = [8][8]uint8{
	/*               SEMI WS OTHER EXPLAIN CREATE TEMP TRIGGER END */
	/* 0 INVALID */ {1, 0, 2, 3, 4, 2, 2, 2},
	/* 1 START   */ {1, 1, 2, 3, 4, 2, 2, 2},
	/* 2 NORMAL  */ {1, 2, 2, 2, 2, 2, 2, 2},
	/* 3 EXPLAIN */ {1, 3, 3, 2, 4, 2, 2, 2},
	/* 4 CREATE  */ {1, 4, 2, 2, 2, 4, 5, 2},
	/* 5 TRIGGER */ {6, 5, 5, 5, 5, 5, 5, 5},
	/* 6 SEMI    */ {6, 6, 5, 5, 5, 5, 5, 7},
	/* 7 END     */ {1, 7, 5, 5, 5, 5, 5, 5},
}

// Split breaks sql into individual statements, each keeping its trailing
// semicolon. Semicolons inside string literals, quoted identifiers,
// comments and trigger bodies do not end a statement. Fragments made only
// of whitespace, comments or bare semicolons are dropped. Trailing text
// without a final semicolon is returned as the last statement.
func Split(sql string) []string {
	var out []string
	state := uint8(0)
	start := 0
	hasContent := false

	emit := func(end int) {
		if hasContent {
			if stmt := strings.TrimSpace(sql[start:end]); stmt != "" {
				out = append(out, stmt)
			}
		}
		start = end
		hasContent = false
	}

	for i := 0; i < len(sql); {
		tok, n := nextToken(sql[i:])
		i += n
		if tok != tkWS && tok != tkSemi {
			hasContent = true
		}
		state = completeTrans[state][tok]
		if tok == tkSemi && state == 1 {
			emit(i)
		}
	}
	emit(len(sql))
	return out
}

// nextToken classifies the token at the start of s and returns its length.
func nextToken(s string) (token, int) {
	switch c := s[0]; {
	case c == ';':
		return tkSemi, 1
	case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
		return tkWS, 1
	case c == '-' && len(s) > 1 && s[1] == '-':
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			return tkWS, i + 1
		}
		return tkWS, len(s)
	case c == '/' && len(s) > 1 && s[1] == '*':
		if i := strings.Index(s[2:], "*/"); i >= 0 {
			return tkWS, i + 4
		}
		// Unterminated comments swallow the rest of the input.
		return tkWS, len(s)
	case c == '[':
		if i := strings.IndexByte(s[1:], ']'); i >= 0 {
			return tkOther, i + 2
		}
		return tkOther, len(s)
	case c == '\'' || c == '"' || c == '`':
		// A doubled quote closes this token and opens the next one, which
		// scans to the same result.
		if i := strings.IndexByte(s[1:], c); i >= 0 {
			return tkOther, i + 2
		}
		return tkOther, len(s)
	case isIDChar(c):
		n := 1
		for n < len(s) && isIDChar(s[n]) {
			n++
		}
		return keyword(s[:n]), n
	default:
		_, size := utf8.DecodeRuneInString(s)
		return tkOther, size
	}
}

// isIDChar matches identifier bytes, treating every non-ASCII byte as part
// of an identifier like the engine does.
func isIDChar(c byte) bool {
	return c >= 0x80 || c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func keyword(word string) token {
	switch strings.ToLower(word) {
	case "create":
		return tkCreate
	case "temp", "temporary":
		return tkTemp
	case "trigger":
		return tkTrigger
	case "end":
		return tkEnd
	case "explain":
		return tkExplain
	default:
		return tkOther
	}
}
