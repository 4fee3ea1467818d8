package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/value"
)

// createTestConn opens a file-backed connection in a temp dir.
func createTestConn(t *testing.T) *Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	c, err := Open(path, WithName("test"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// createMemoryConn opens an in-memory connection.
func createMemoryConn(t *testing.T) *Conn {
	t.Helper()
	c, err := Open(MemoryPath, WithName("mem"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// mustExec runs sql and fails the test on error.
func mustExec(t *testing.T, c *Conn, sql string, params ...any) *Result {
	t.Helper()
	res, err := c.Execute(context.Background(), sql, params, ModeRows)
	require.NoError(t, err, sql)
	return res
}

// count returns SELECT COUNT(*) FROM table.
func count(t *testing.T, c *Conn, table string) int64 {
	t.Helper()
	res := mustExec(t, c, "SELECT COUNT(*) AS n FROM "+table)
	require.Len(t, res.Rows, 1)
	n, ok := res.Rows[0].Get("n")
	require.True(t, ok)
	return int64(n.(value.Int))
}
