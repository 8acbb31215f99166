package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: cli_pass
schema: |
  tables: users: {
    key:    "id"
    policy: "sequence"
    fields: [{name: "id", type: "int"}, {name: "name", type: "string"}]
  }
steps:
  - op: insert
    table: users
    values: {name: A}
    expect:
      values: {id: 1}
  - op: fetch
    table: users
    expect:
      count: 1
`

const failingScenario = `name: cli_fail
schema: |
  tables: users: {
    key:    "id"
    policy: "sequence"
    fields: [{name: "id", type: "int"}, {name: "name", type: "string"}]
  }
steps:
  - op: fetch
    table: users
    expect:
      count: 3
`

type runResponse struct {
	Status string    `json:"status"`
	Data   RunResult `json:"data"`
}

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func decodeRun(t *testing.T, out string) RunResult {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRunCommand_Pass(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"pass.yaml": passingScenario})

	out, _, err := executeCommand(t, "run", filepath.Join(dir, "pass.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cli_pass\n")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestRunCommand_FailureExitsOne(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"pass.yaml": passingScenario,
		"fail.yaml": failingScenario,
	})

	out, _, err := executeCommand(t, "run", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 scenarios failed")

	result := decodeRun(t, out)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Failed)
	for _, s := range result.Scenarios {
		if s.Name == "cli_fail" {
			assert.False(t, s.Pass)
			assert.Equal(t, []string{"steps[0] (fetch): count: expected 3, got 0"}, s.Errors)
		}
	}
}

func TestRunCommand_Filter(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"pass_a.yaml": passingScenario,
		"fail_b.yaml": failingScenario,
	})

	out, _, err := executeCommand(t, "run", dir, "--filter", "pass_*", "--format", "json")
	require.NoError(t, err)

	result := decodeRun(t, out)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "cli_pass", result.Scenarios[0].Name)
}

func TestRunCommand_Golden(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"pass.yaml": passingScenario})
	golden := filepath.Join(dir, "golden", "cli_pass.golden")

	out, _, err := executeCommand(t, "run", dir, "--update", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, goldenUpdated, decodeRun(t, out).Scenarios[0].Golden)

	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"cli_pass","trace":[`+
		`{"op":"insert","seq":1,"step":"steps[0]","table":"users","values":{"id":1,"name":"A"}},`+
		`{"count":1,"op":"fetch","rows":[{"id":1,"name":"A"}],"seq":2,"step":"steps[1]","table":"users"}]}`,
		string(data))

	out, _, err = executeCommand(t, "run", dir, "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, goldenMatch, decodeRun(t, out).Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"cli_pass","trace":[]}`), 0o644))
	out, _, err = executeCommand(t, "run", dir, "--format", "json")
	require.Error(t, err)
	result := decodeRun(t, out)
	assert.False(t, result.Scenarios[0].Pass)
	assert.Contains(t, result.Scenarios[0].Errors, "trace does not match golden file (run with --update to regenerate)")
}

func TestRunCommand_LoadErrorIsScenarioFailure(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"broken.yaml": "name: [\n"})

	out, _, err := executeCommand(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestRunCommand_MissingPath(t *testing.T) {
	out, _, err := executeCommand(t, "run", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E001]")
}

func TestRunCommand_EmptyDirectory(t *testing.T) {
	out, _, err := executeCommand(t, "run", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
