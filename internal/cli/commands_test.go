package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useTempBaseDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SQLBRIDGE_BASE_DIR", dir)
	t.Setenv("SQLBRIDGE_MQTT_BROKER", "")
	return dir
}

func TestExec(t *testing.T) {
	useTempBaseDir(t)

	_, err := runCLI(t, "", "exec", "app", "CREATE TABLE t(id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	out, err := runCLI(t, "", "--format", "json", "exec", "app", "INSERT INTO t(v) VALUES (?)", "--params", `["x"]`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"insertId":1,"rows":[],"rowsAffected":1}}`, out)

	out, err = runCLI(t, "", "exec", "app", "SELECT id, v FROM t")
	require.NoError(t, err)
	// A fresh connection reports no prior changes.
	assert.Equal(t, "id\tv\n1\tx\nrows affected: 0\n", out)

	out, err = runCLI(t, "", "--format", "json", "exec", "app", "SELECT v FROM t", "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, `"rows":[["x"]]`)
}

func TestExec_Errors(t *testing.T) {
	useTempBaseDir(t)

	t.Run("statement failure", func(t *testing.T) {
		out, err := runCLI(t, "", "--format", "json", "exec", "app", "SELECT * FROM nope")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "PREPARE", resp.Error.Code)
	})

	t.Run("bad params", func(t *testing.T) {
		out, err := runCLI(t, "", "exec", "app", "SELECT ?", "--params", `{"a":1}`)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E004]")
	})

	t.Run("bad config", func(t *testing.T) {
		_, err := runCLI(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "exec", "app", "SELECT 1")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(`[1, "a", null, 2.5, 9007199254740993]`)
	require.NoError(t, err)
	require.Len(t, params, 5)
	assert.Equal(t, json.Number("9007199254740993"), params[4])

	params, err = parseParams("  ")
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams(`[{"nested": true}]`)
	require.Error(t, err)
}

func TestExec_ConfiguredMemoryDatabase(t *testing.T) {
	dir := useTempBaseDir(t)
	cfgPath := filepath.Join(dir, "sqlbridge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
base_dir: `+dir+`
databases:
  - name: scratch
    memory: true
`), 0644))

	out, err := runCLI(t, "", "--config", cfgPath, "exec", "scratch", "SELECT 40 + 2 AS answer")
	require.NoError(t, err)
	assert.Contains(t, out, "answer\n42\n")

	_, err = os.Stat(filepath.Join(dir, "scratch"))
	assert.True(t, os.IsNotExist(err), "memory database must not create a file")
}

func TestBatch(t *testing.T) {
	dir := useTempBaseDir(t)

	_, err := runCLI(t, "", "exec", "app", "CREATE TABLE t(v TEXT)")
	require.NoError(t, err)

	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- sql: INSERT INTO t(v) VALUES (?)
  params: [[a], [b], [c]]
- sql: DELETE FROM t WHERE v = ?
  params: [b]
`), 0644))

	out, err := runCLI(t, "", "batch", "app", path)
	require.NoError(t, err)
	assert.Equal(t, "committed 4 commands, rows affected: 4\n", out)

	out, err = runCLI(t, "", "exec", "app", "SELECT count(*) AS n FROM t")
	require.NoError(t, err)
	assert.Contains(t, out, "n\n2\n")
}

func TestBatch_RollsBack(t *testing.T) {
	dir := useTempBaseDir(t)

	_, err := runCLI(t, "", "exec", "app", "CREATE TABLE t(v TEXT NOT NULL)")
	require.NoError(t, err)

	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- sql: INSERT INTO t(v) VALUES (?)
  params: [a]
- sql: INSERT INTO t(v) VALUES (NULL)
`), 0644))

	_, err = runCLI(t, "", "batch", "app", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := runCLI(t, "", "exec", "app", "SELECT count(*) AS n FROM t")
	require.NoError(t, err)
	assert.Contains(t, out, "n\n0\n")
}

func TestBatch_MissingFile(t *testing.T) {
	dir := useTempBaseDir(t)

	out, err := runCLI(t, "", "batch", "app", filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestLoad(t *testing.T) {
	dir := useTempBaseDir(t)

	path := filepath.Join(dir, "seed.sql")
	require.NoError(t, os.WriteFile(path, []byte(
		"CREATE TABLE t(v TEXT)\n\nINSERT INTO t VALUES ('a')\nINSERT INTO t VALUES ('b')\n"), 0644))

	out, err := runCLI(t, "", "--format", "json", "load", "app", path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"commands":3,"rowsAffected":2}}`, out)

	_, err = runCLI(t, "", "load", "app", filepath.Join(dir, "missing.sql"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestWatch(t *testing.T) {
	useTempBaseDir(t)

	_, err := runCLI(t, "", "exec", "app", "CREATE TABLE t(id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	stdin := "INSERT INTO t(v) VALUES ('a')\n\nINSERT INTO nope VALUES (1)\n"
	out, err := runCLI(t, stdin, "watch", "app", "--query", "SELECT count(*) AS n FROM t", "--table", "t")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, "output: %s", out)

	events := make([]map[string]any, len(lines))
	for i, line := range lines {
		require.NoError(t, json.Unmarshal([]byte(line), &events[i]), line)
	}

	assert.Equal(t, "update", events[0]["event"])
	assert.Equal(t, "INSERT", events[0]["op"])
	assert.Equal(t, "t", events[0]["table"])
	assert.Equal(t, map[string]any{"id": float64(1), "v": "a"}, events[0]["row"])

	assert.Equal(t, "query", events[1]["event"])
	result := events[1]["result"].(map[string]any)
	assert.Equal(t, []any{map[string]any{"n": float64(1)}}, result["rows"])

	assert.Equal(t, "error", events[2]["event"])
	assert.Equal(t, "PREPARE", events[2]["code"])
	assert.Equal(t, "INSERT INTO nope VALUES (1)", events[2]["sql"])
}

func TestWatch_QueryNeedsTable(t *testing.T) {
	useTempBaseDir(t)

	_, err := runCLI(t, "", "watch", "app", "--query", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

const tinyScenario = `name: tiny
description: "query a memory database"
steps:
  - op: open
    db: m
    location: ":memory:"
  - op: execute
    db: m
    sql: "SELECT 1 AS one"
    expect:
      rows:
        - { one: 1 }
`

func TestTestCommand_GoldenLifecycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.yaml"), []byte(tinyScenario), 0644))

	out, err := runCLI(t, "", "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ tiny (golden updated)")

	goldenPath := filepath.Join(dir, "golden", "tiny.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"tiny"`)

	out, err = runCLI(t, "", "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"tiny","trace":[]}`), 0644))
	out, err = runCLI(t, "", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_JSONAndFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.yaml"), []byte(tinyScenario), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nbogus: 1\n"), 0644))

	out, err := runCLI(t, "", "--format", "json", "test", dir, "--filter", "tiny")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)

	out, err = runCLI(t, "", "--format", "json", "test", dir)
	require.Error(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := runCLI(t, "", "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFindScenarioFiles_SkipsGolden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "c.yaml"), nil, 0644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}

func TestKV(t *testing.T) {
	dir := useTempBaseDir(t)

	_, err := runCLI(t, "", "kv", "set", "b", "2")
	require.NoError(t, err)
	_, err = runCLI(t, "", "kv", "set", "a", "1")
	require.NoError(t, err)

	out, err := runCLI(t, "", "kv", "get", "a")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = runCLI(t, "", "--format", "json", "kv", "get", "b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"key":"b","value":"2"}}`, out)

	out, err = runCLI(t, "", "kv", "keys")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	_, err = runCLI(t, "", "kv", "remove", "a")
	require.NoError(t, err)
	out, err = runCLI(t, "", "kv", "get", "a")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")

	out, err = runCLI(t, "", "--format", "json", "kv", "clear")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, out)
	out, err = runCLI(t, "", "--format", "json", "kv", "keys")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"keys":[]}}`, out)

	_, err = os.Stat(filepath.Join(dir, "__sqlbridge_storage.sqlite"))
	assert.NoError(t, err)
}

func TestKV_CustomName(t *testing.T) {
	dir := useTempBaseDir(t)

	_, err := runCLI(t, "", "kv", "--name", "prefs.db", "--location", "kv", "set", "theme", "dark")
	require.NoError(t, err)
	out, err := runCLI(t, "", "kv", "--name", "prefs.db", "--location", "kv", "get", "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark\n", out)

	_, err = os.Stat(filepath.Join(dir, "kv", "prefs.db"))
	assert.NoError(t, err)
}
