package batch

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/store"
	"github.com/roach88/sqlbridge/internal/value"
)

func openConn(t *testing.T) *store.Conn {
	t.Helper()
	c, err := store.Open(store.MemoryPath, store.WithName("batch"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Execute(context.Background(), "CREATE TABLE a(id INTEGER PRIMARY KEY, v TEXT)", nil, store.ModeNone)
	require.NoError(t, err)
	return c
}

func rowCount(t *testing.T, c *store.Conn) int64 {
	t.Helper()
	res, err := c.Execute(context.Background(), "SELECT COUNT(*) FROM a", nil, store.ModeRaw)
	require.NoError(t, err)
	return int64(res.RawRows[0][0].(value.Int))
}

func inTransaction(t *testing.T, c *store.Conn) bool {
	t.Helper()
	var in bool
	require.NoError(t, c.Do(context.Background(), func(s *store.Session) error {
		in = s.InTransaction()
		return nil
	}))
	return in
}

func TestExecute_Commits(t *testing.T) {
	c := openConn(t)

	res, err := Execute(context.Background(), c, []Command{
		{SQL: "INSERT INTO a(v) VALUES (?)", Params: []any{"p"}},
		{SQL: "INSERT INTO a(v) VALUES (?), (?)", Params: []any{"q", "r"}},
		{SQL: "SELECT * FROM a"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Commands)
	// SELECT reports the counter left by the previous write.
	assert.Equal(t, int64(5), res.RowsAffected)
	assert.Equal(t, int64(3), rowCount(t, c))
	assert.False(t, inTransaction(t, c))
}

func TestExecute_RollsBackOnFailure(t *testing.T) {
	c := openConn(t)
	_, err := c.Execute(context.Background(), "INSERT INTO a(v) VALUES ('before')", nil, store.ModeNone)
	require.NoError(t, err)

	_, err = Execute(context.Background(), c, []Command{
		{SQL: "INSERT INTO a(v) VALUES(?)", Params: []any{"p"}},
		{SQL: "INSERT INTO a(v) VALUES(?)", Params: []any{"q"}},
		{SQL: "INSERT INTO nonexistent(v) VALUES(?)", Params: []any{"r"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table: nonexistent")
	assert.Equal(t, int64(1), rowCount(t, c))
	assert.False(t, inTransaction(t, c))
}

func TestExecute_RollsBackOnConversionFailure(t *testing.T) {
	c := openConn(t)

	_, err := Execute(context.Background(), c, []Command{
		{SQL: "INSERT INTO a(v) VALUES(?)", Params: []any{"p"}},
		{SQL: "INSERT INTO a(v) VALUES(?)", Params: []any{map[string]any{"bad": true}}},
	})
	require.Error(t, err)
	assert.True(t, sqlerr.IsUnsupportedValueError(err))
	assert.Equal(t, int64(0), rowCount(t, c))
	assert.False(t, inTransaction(t, c))
}

func TestExecute_RollsBackOnPanic(t *testing.T) {
	c := openConn(t)

	// A change handler that panics runs inside the batch critical section.
	require.NoError(t, c.Do(context.Background(), func(s *store.Session) error {
		s.SetChangeHandler(func(*store.Session, store.ChangeEvent) { panic("handler exploded") })
		return nil
	}))

	_, err := Execute(context.Background(), c, []Command{
		{SQL: "INSERT INTO a(v) VALUES ('x')"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")

	require.NoError(t, c.Do(context.Background(), func(s *store.Session) error {
		s.SetChangeHandler(nil)
		return nil
	}))
	assert.Equal(t, int64(0), rowCount(t, c))
	assert.False(t, inTransaction(t, c))
}

func TestExecute_EmptyBatch(t *testing.T) {
	c := openConn(t)

	commits := 0
	require.NoError(t, c.Do(context.Background(), func(s *store.Session) error {
		s.SetCommitHook(func() { commits++ })
		return nil
	}))

	_, err := Execute(context.Background(), c, nil)
	require.Error(t, err)
	assert.True(t, sqlerr.IsEmptyBatchError(err))
	assert.Equal(t, "[sqlbridge] EMPTY_BATCH: No SQL commands provided", err.Error())
	assert.Equal(t, 0, commits)
}

func TestExecute_IsExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.db")
	c1, err := store.Open(path, store.WithPragmas("PRAGMA busy_timeout = 0"))
	require.NoError(t, err)
	defer c1.Close()
	c2, err := store.Open(path, store.WithPragmas("PRAGMA busy_timeout = 0"))
	require.NoError(t, err)
	defer c2.Close()

	_, err = c1.Execute(context.Background(), "CREATE TABLE a(v)", nil, store.ModeNone)
	require.NoError(t, err)

	// While c1 holds a batch transaction, c2 cannot even read.
	require.NoError(t, c1.Do(context.Background(), func(s *store.Session) error {
		_, err := s.Exec(beginSQL)
		require.NoError(t, err)
		_, err = s.Exec("INSERT INTO a VALUES (1)")
		require.NoError(t, err)

		_, err = c2.Execute(context.Background(), "SELECT * FROM a", nil, store.ModeRows)
		assert.True(t, sqlerr.IsBusy(err), "expected busy, got %v", err)

		_, err = s.Exec(rollbackSQL)
		return err
	}))
}

func TestFromTuples(t *testing.T) {
	cmds, err := FromTuples([]Tuple{
		{SQL: "A"},
		{SQL: "B", Params: []any{1, "x"}},
		{SQL: "C", Params: []any{[]any{1}, []any{2}}},
		{SQL: "D", Params: [][]any{{3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Command{
		{SQL: "A"},
		{SQL: "B", Params: []any{1, "x"}},
		{SQL: "C", Params: []any{1}},
		{SQL: "C", Params: []any{2}},
		{SQL: "D", Params: []any{3}},
	}, cmds)

	_, err = FromTuples([]Tuple{{SQL: "E", Params: "nope"}})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	c := openConn(t)
	path := filepath.Join(t.TempDir(), "seed.sql")
	content := "INSERT INTO a(v) VALUES ('one');\n\n   \nINSERT INTO a(v) VALUES ('two');\nUPDATE a SET v = 'uno' WHERE v = 'one';\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	res, err := LoadFile(context.Background(), c, path)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{RowsAffected: 3, Commands: 3}, res)
	assert.Equal(t, int64(2), rowCount(t, c))
}

func TestLoadFile_RollsBack(t *testing.T) {
	c := openConn(t)
	path := filepath.Join(t.TempDir(), "bad.sql")
	require.NoError(t, os.WriteFile(path, []byte("INSERT INTO a(v) VALUES ('one');\nINSERT INTO nope VALUES (1);\n"), 0o644))

	_, err := LoadFile(context.Background(), c, path)
	require.Error(t, err)
	assert.Equal(t, int64(0), rowCount(t, c))
}

func TestLoadFile_Missing(t *testing.T) {
	c := openConn(t)
	_, err := LoadFile(context.Background(), c, filepath.Join(t.TempDir(), "missing.sql"))
	require.Error(t, err)
	assert.True(t, sqlerr.IsFileNotFoundError(err))
}

func TestLoadFile_Empty(t *testing.T) {
	c := openConn(t)
	path := filepath.Join(t.TempDir(), "empty.sql")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))

	res, err := LoadFile(context.Background(), c, path)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{}, res)
}

func TestExecute_LogsThroughConnLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, err := store.Open(store.MemoryPath, store.WithName("logged"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = Execute(context.Background(), c, []Command{
		{SQL: "CREATE TABLE a(v TEXT)"},
		{SQL: "INSERT INTO missing(v) VALUES (1)"},
	})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"batch command failed"`)
	assert.Contains(t, out, `"index":1`)
	assert.Contains(t, out, `"msg":"batch rolled back"`)
	assert.Contains(t, out, `"database":"logged"`)
}
