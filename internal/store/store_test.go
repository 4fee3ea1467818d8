package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlbridge/internal/sqlerr"
	"github.com/roach88/sqlbridge/internal/value"
)

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	mustExec(t, c, "CREATE TABLE t(x)")
	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, c.Name())
}

func TestOpen_MissingDirectoryFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "x.db"))
	require.Error(t, err)
	assert.True(t, sqlerr.IsOpenError(err))
}

func TestOpen_Memory(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE t(x)")
	assert.Equal(t, MemoryPath, c.Path())
}

func TestClose_Idempotent(t *testing.T) {
	c := createMemoryConn(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
}

func TestDo_AfterCloseFailsNotOpen(t *testing.T) {
	c := createMemoryConn(t)
	require.NoError(t, c.Close())

	_, err := c.Execute(context.Background(), "SELECT 1", nil, ModeRows)
	require.Error(t, err)
	assert.True(t, sqlerr.IsNotOpenError(err))
}

func TestExecute_InsertAndSelect(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(id INTEGER PRIMARY KEY, v TEXT)")

	res := mustExec(t, c, "INSERT INTO a(v) VALUES (?)", "x")
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, int64(1), res.InsertID)

	res = mustExec(t, c, "SELECT * FROM a")
	require.Len(t, res.Rows, 1)
	id, _ := res.Rows[0].Get("id")
	v, _ := res.Rows[0].Get("v")
	assert.Equal(t, value.Int(1), id)
	assert.Equal(t, value.Text("x"), v)
	assert.Equal(t, []ColumnInfo{
		{Name: "id", Index: 0, Type: "INTEGER"},
		{Name: "v", Index: 1, Type: "TEXT"},
	}, res.Metadata)
}

func TestExecute_MetadataUnknownForExpressions(t *testing.T) {
	c := createMemoryConn(t)
	res := mustExec(t, c, "SELECT 1 + 1 AS two")
	require.Len(t, res.Metadata, 1)
	assert.Equal(t, "UNKNOWN", res.Metadata[0].Type)
}

func TestExecute_MetadataOnEmptyResult(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(id INTEGER PRIMARY KEY, v TEXT)")
	res := mustExec(t, c, "SELECT * FROM a")
	assert.Empty(t, res.Rows)
	assert.Len(t, res.Metadata, 2)
}

func TestExecute_RawMode(t *testing.T) {
	c := createMemoryConn(t)
	res, err := c.Execute(context.Background(), "SELECT 1, 'a', NULL, x'0102', 2.5", nil, ModeRaw)
	require.NoError(t, err)
	require.Len(t, res.RawRows, 1)
	assert.Nil(t, res.Metadata)
	assert.Empty(t, res.Rows)
	assert.Equal(t, []value.Value{
		value.Int(1), value.Text("a"), value.Null{}, value.Blob{1, 2}, value.Float(2.5),
	}, res.RawRows[0])
}

func TestExecute_NoneMode(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(v)")
	mustExec(t, c, "INSERT INTO a VALUES (1), (2), (3)")

	res, err := c.Execute(context.Background(), "SELECT * FROM a", nil, ModeNone)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.RawRows)
}

func TestExecute_MultiStatement(t *testing.T) {
	c := createMemoryConn(t)
	res := mustExec(t, c, `
		CREATE TABLE a(id INTEGER PRIMARY KEY, v TEXT);
		INSERT INTO a(v) VALUES ('one;two');
		INSERT INTO a(v) VALUES ('three');
		SELECT v FROM a ORDER BY id;
	`)
	require.Len(t, res.Rows, 2)
	v, _ := res.Rows[0].Get("v")
	assert.Equal(t, value.Text("one;two"), v)
}

func TestExecute_MultiStatementErrorKeepsEarlierWork(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(v)")

	_, err := c.Execute(context.Background(),
		"INSERT INTO a VALUES (1); INSERT INTO missing VALUES (2); INSERT INTO a VALUES (3);",
		nil, ModeRows)
	require.Error(t, err)
	assert.True(t, sqlerr.IsPrepareError(err))
	assert.Equal(t, int64(1), count(t, c, "a"))
}

func TestExecute_ParamsReusedPerStatement(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(v); CREATE TABLE b(v)")
	mustExec(t, c, "INSERT INTO a VALUES (?); INSERT INTO b VALUES (?)", "p")

	res := mustExec(t, c, "SELECT v FROM b")
	v, _ := res.Rows[0].Get("v")
	assert.Equal(t, value.Text("p"), v)
}

func TestExecute_ExtraParamsIgnored(t *testing.T) {
	c := createMemoryConn(t)
	res := mustExec(t, c, "SELECT ? AS a", 1, 2, 3)
	a, _ := res.Rows[0].Get("a")
	assert.Equal(t, value.Int(1), a)
}

func TestExecute_PrepareErrorVerbatim(t *testing.T) {
	c := createMemoryConn(t)
	_, err := c.Execute(context.Background(), "SELEC 1", nil, ModeRows)
	require.Error(t, err)
	assert.True(t, sqlerr.IsPrepareError(err))
	assert.Contains(t, err.Error(), `near "SELEC": syntax error`)
}

func TestExecute_StepErrorOnConstraint(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(id INTEGER PRIMARY KEY)")
	mustExec(t, c, "INSERT INTO a VALUES (1)")

	_, err := c.Execute(context.Background(), "INSERT INTO a VALUES (1)", nil, ModeRows)
	require.Error(t, err)
	assert.True(t, sqlerr.IsStepError(err))
	assert.True(t, sqlerr.IsConstraint(err))
}

func TestExecute_UnsupportedParam(t *testing.T) {
	c := createMemoryConn(t)
	_, err := c.Execute(context.Background(), "SELECT ?", []any{map[string]any{"a": 1}}, ModeRows)
	require.Error(t, err)
	assert.True(t, sqlerr.IsUnsupportedValueError(err))
}

func TestExecute_EmptySQL(t *testing.T) {
	c := createMemoryConn(t)
	_, err := c.Execute(context.Background(), "  -- nothing\n", nil, ModeRows)
	require.Error(t, err)
	assert.True(t, sqlerr.IsPrepareError(err))
}

func TestExecute_BlobRoundTrip(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE b(data BLOB)")
	src := []byte{0, 1, 2, 255}
	mustExec(t, c, "INSERT INTO b VALUES (?)", src)
	src[0] = 42

	res := mustExec(t, c, "SELECT data FROM b")
	data, _ := res.Rows[0].Get("data")
	assert.Equal(t, value.Blob{0, 1, 2, 255}, data)
}

func TestStatement_RebindAndRerun(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(v INTEGER)")
	mustExec(t, c, "INSERT INTO a VALUES (1), (2), (3)")

	err := c.Do(context.Background(), func(s *Session) error {
		stmt, err := s.Prepare("SELECT v FROM a WHERE v > ? ORDER BY v")
		require.NoError(t, err)
		defer stmt.Close()

		stmt.Bind([]value.Value{value.Int(1)})
		res, err := s.Run(stmt, ModeRaw)
		require.NoError(t, err)
		assert.Len(t, res.RawRows, 2)

		stmt.Bind([]value.Value{value.Int(2)})
		res, err = s.Run(stmt, ModeRaw)
		require.NoError(t, err)
		assert.Len(t, res.RawRows, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestStatement_CloseTwice(t *testing.T) {
	c := createMemoryConn(t)
	err := c.Do(context.Background(), func(s *Session) error {
		stmt, err := s.Prepare("SELECT 1")
		require.NoError(t, err)
		require.NoError(t, stmt.Close())
		require.NoError(t, stmt.Close())

		_, err = s.Run(stmt, ModeRows)
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestSession_InTransaction(t *testing.T) {
	c := createMemoryConn(t)
	err := c.Do(context.Background(), func(s *Session) error {
		assert.False(t, s.InTransaction())
		_, err := s.Exec("BEGIN")
		require.NoError(t, err)
		assert.True(t, s.InTransaction())
		_, err = s.Exec("ROLLBACK")
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestLoadExtension_MissingFile(t *testing.T) {
	c := createMemoryConn(t)
	err := c.Do(context.Background(), func(s *Session) error {
		return s.LoadExtension(filepath.Join(t.TempDir(), "libnothing.so"), "")
	})
	require.Error(t, err)
	assert.True(t, sqlerr.IsExtensionLoadError(err))
}

func TestDerivedEntryPoint(t *testing.T) {
	assert.Equal(t, "sqlite3_vector_init", derivedEntryPoint("/opt/ext/libvector.so"))
	assert.Equal(t, "sqlite3_crsqlite_init", derivedEntryPoint("crsqlite.dylib"))
	assert.Equal(t, "sqlite3_fts_init", derivedEntryPoint("fts5.dll"))
	assert.Equal(t, "", derivedEntryPoint("123.so"))
}

func TestResult_ToMap(t *testing.T) {
	c := createMemoryConn(t)
	mustExec(t, c, "CREATE TABLE a(id INTEGER PRIMARY KEY, v TEXT)")
	res := mustExec(t, c, "INSERT INTO a(v) VALUES ('x')")
	m := res.ToMap()
	assert.Equal(t, int64(1), m["insertId"])
	assert.Equal(t, int64(1), m["rowsAffected"])

	out, err := value.MarshalCanonical(mustExec(t, c, "SELECT * FROM a").ToMap())
	require.NoError(t, err)
	assert.Equal(t,
		`{"insertId":1,"metadata":[{"index":0,"name":"id","type":"INTEGER"},{"index":1,"name":"v","type":"TEXT"}],"rows":[{"id":1,"v":"x"}],"rowsAffected":1}`,
		string(out))
}

func TestRow_DuplicateColumnsResolveToFirst(t *testing.T) {
	row := NewRow([]string{"id", "id"}, []value.Value{value.Int(1), value.Int(2)})
	v, ok := row.Get("id")
	require.True(t, ok)
	assert.Equal(t, value.Int(1), v)
	assert.Equal(t, map[string]any{"id": int64(1)}, row.Map())

	_, ok = row.Get("missing")
	assert.False(t, ok)
}
