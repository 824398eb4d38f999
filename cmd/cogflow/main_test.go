package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cogflow/internal/aggregate"
	"github.com/fyrsmithlabs/cogflow/internal/engine"
	"github.com/fyrsmithlabs/cogflow/internal/scheduler"
)

const testPlan = `name: demo
tasks:
  - id: parse
    name: parse input
    phase: 1
    size: 20
    complexity: 0.1
    contract:
      - "func Parse(data []byte) (string, error)"
  - id: render
    name: render output
    phase: 1
    size: 20
    complexity: 0.1
    depends_on: [parse]
    contract:
      - "func Render(s string) string"
`

const testConfig = `events:
  sink: none
logging:
  level: error
backoff:
  initial: 1ms
  max: 1ms
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, jsonOutput, minConfidence = "", false, 0
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand_JSON(t *testing.T) {
	planPath := writeFile(t, "plan.yaml", testPlan)
	cfgPath := writeFile(t, "cogflow.yaml", testConfig)

	out, err := execute(t, "run", "--config", cfgPath, "--json", planPath)
	require.NoError(t, err)

	var rep engine.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "demo", rep.Plan)
	assert.Equal(t, aggregate.StatusFullySucceeded, rep.Status)
	require.Len(t, rep.Units, 2)
	assert.Equal(t, "parse", rep.Units[0].UnitID)
	assert.Equal(t, scheduler.StatusCompleted, rep.Units[1].Status)
}

func TestRunCommand_Text(t *testing.T) {
	planPath := writeFile(t, "plan.yaml", testPlan)
	cfgPath := writeFile(t, "cogflow.yaml", testConfig)

	out, err := execute(t, "run", "--config", cfgPath, planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "fully_succeeded")
	assert.Contains(t, out, "render")
	assert.Contains(t, out, "2 total, 2 completed, 0 failed, 0 skipped")
}

func TestRunCommand_CycleAborts(t *testing.T) {
	planPath := writeFile(t, "plan.yaml", `name: loop
tasks:
  - {id: a, name: a, phase: 1, size: 10, complexity: 0.1, depends_on: [b]}
  - {id: b, name: b, phase: 1, size: 10, complexity: 0.1, depends_on: [a]}
`)
	cfgPath := writeFile(t, "cogflow.yaml", testConfig)

	out, err := execute(t, "run", "--config", cfgPath, planPath)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitAborted, ee.code)
	assert.Contains(t, ee.msg, engine.CodeCyclicDependency)
	assert.Contains(t, out, "aborted")
}

func TestRunCommand_MissingPlan(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitAborted, ee.code)
}

func TestPlanCommand(t *testing.T) {
	planPath := writeFile(t, "plan.yaml", testPlan)
	cfgPath := writeFile(t, "cogflow.yaml", testConfig)

	out, err := execute(t, "plan", "--config", cfgPath, planPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 units in 2 waves")
	assert.Contains(t, out, "parse -> render")

	out, err = execute(t, "plan", "--config", cfgPath, "--json", planPath)
	require.NoError(t, err)
	var view planView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Waves, 2)
	assert.Equal(t, []string{"render"}, view.Waves[1].UnitIDs)
	require.Len(t, view.Edges, 1)
}

func TestPruneCommand(t *testing.T) {
	cfgPath := writeFile(t, "cogflow.yaml", testConfig)
	out, err := execute(t, "prune", "--config", cfgPath, "--json", "--min-confidence", "0.6")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(0), got["pruned"])
	assert.Equal(t, 0.6, got["min_confidence"])

	_, err = execute(t, "prune", "--config", cfgPath, "--min-confidence", "1.5")
	assert.Error(t, err)
}

func TestRunExit(t *testing.T) {
	tests := []struct {
		name   string
		status aggregate.Status
		err    error
		code   int
	}{
		{"fully succeeded", aggregate.StatusFullySucceeded, nil, 0},
		{"partial", aggregate.StatusPartiallySucceeded, nil, exitPartial},
		{"cancelled", aggregate.StatusPartiallySucceeded, context.Canceled, exitPartial},
		{"aborted", aggregate.StatusAborted, &engine.PlanError{Code: engine.CodeMalformedPlan, Msg: "bad"}, exitAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runExit(&engine.Report{Status: tt.status}, tt.err)
			if tt.code == 0 {
				assert.NoError(t, err)
				return
			}
			var ee *exitError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.code, ee.code)
		})
	}
}
