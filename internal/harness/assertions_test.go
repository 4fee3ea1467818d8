package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trace(labels ...string) []TraceEvent {
	out := make([]TraceEvent, len(labels))
	for i, l := range labels {
		out[i] = TraceEvent{Seq: int64(i + 1), Kind: KindStep, Label: l}
	}
	return out
}

func TestAssertTraceContains(t *testing.T) {
	tr := trace("open", "execute")

	assert.NoError(t, assertTraceContains(tr, Assertion{Event: "execute"}))

	err := assertTraceContains(tr, Assertion{Event: "batch"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "[2] step execute")
}

func TestAssertTraceOrder(t *testing.T) {
	tr := trace("open", "subscribe", "execute", "s1", "execute", "s1")

	assert.NoError(t, assertTraceOrder(tr, Assertion{Events: []string{"open", "execute", "s1"}}))
	assert.NoError(t, assertTraceOrder(tr, Assertion{Events: []string{"subscribe", "s1"}}))

	err := assertTraceOrder(tr, Assertion{Events: []string{"s1", "subscribe"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s1 (pos 4) should be before subscribe (pos 2)")

	err = assertTraceOrder(tr, Assertion{Events: []string{"open", "close"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: close")
}

func TestAssertTraceCount(t *testing.T) {
	tr := trace("execute", "s1", "execute", "s1", "s1")

	assert.NoError(t, assertTraceCount(tr, Assertion{Event: "s1", Count: 3}))
	assert.NoError(t, assertTraceCount(tr, Assertion{Event: "batch", Count: 0}))

	err := assertTraceCount(tr, Assertion{Event: "execute", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"b": 2, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, "a = ? AND b = ?", sql)
	assert.Equal(t, []any{"x", 2}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	_, _, err = buildWhereClause(map[string]any{"a; DROP TABLE t": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestFinalState(t *testing.T) {
	s := parse(t, `
name: final_state
description: "final_state reports missing, ambiguous and mismatching rows"
steps:
  - op: open
    db: m
    location: ":memory:"
  - op: batch
    db: m
    commands:
      - sql: "CREATE TABLE t(id INTEGER PRIMARY KEY, kind TEXT, n INTEGER)"
      - sql: "INSERT INTO t(kind, n) VALUES ('a', 1), ('a', 2), ('b', 3)"
assertions:
  - type: final_state
    db: m
    table: t
    where: { kind: b }
    expect: { n: 3 }
  - type: final_state
    db: m
    table: t
    where: { kind: c }
    expect: { n: 3 }
  - type: final_state
    db: m
    table: t
    where: { kind: a }
    expect: { n: 1 }
  - type: final_state
    db: m
    table: t
    where: { id: 1 }
    expect: { n: 9 }
  - type: final_state
    db: m
    table: t
    where: { id: 1 }
    expect: { missing: 1 }
  - type: final_state
    db: m
    table: "t; DROP TABLE t"
    expect: { n: 1 }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "row not found")
	assert.Contains(t, result.Errors[1], "multiple rows matched")
	assert.Contains(t, result.Errors[2], `column "n" = 1, expected 9`)
	assert.Contains(t, result.Errors[3], `column "missing" not present`)
	assert.Contains(t, result.Errors[4], "invalid table name")
}
