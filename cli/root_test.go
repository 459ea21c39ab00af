package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/pkg/config"
)

const approvalYAML = `
name: approval
tasks:
  - id: check
    type: exclusive
    routes:
      - condition: "amount > 100"
        next: review
    default: auto
  - id: review
    type: manual
    next: done
  - id: auto
    type: script
    set:
      approved: true
    next: done
  - id: done
    type: script
    set:
      total: "{{ .amount }}"
start: check
end: done
`

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", "", "--log-level", "disabled"}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSetupGlobalConfig(t *testing.T) {
	t.Run("Should apply the config file and explicit flags", func(t *testing.T) {
		cfgPath := writeDefinition(t, "tasktree.yaml", "engine:\n  max_run_steps: 42\n  run_timeout: 1m\n")
		cmd := RootCmd()
		require.NoError(t, cmd.PersistentFlags().Set("config", cfgPath))
		require.NoError(t, cmd.PersistentFlags().Set("log-level", "warn"))
		cmd.SetContext(t.Context())

		require.NoError(t, SetupGlobalConfig(cmd))
		cfg := config.FromContext(cmd.Context())
		assert.Equal(t, 42, cfg.Engine.MaxRunSteps)
		assert.Equal(t, "warn", cfg.Runtime.LogLevel)
	})

	t.Run("Should apply flags parsed on a subcommand", func(t *testing.T) {
		root := RootCmd()
		run, _, err := root.Find([]string{"run"})
		require.NoError(t, err)
		require.NoError(t, run.ParseFlags([]string{"--max-steps", "7", "--save"}))
		require.NoError(t, root.PersistentFlags().Set("config", ""))
		run.SetContext(t.Context())

		require.NoError(t, SetupGlobalConfig(run))
		cfg := config.FromContext(run.Context())
		assert.Equal(t, 7, cfg.Engine.MaxRunSteps)
	})
}

func TestRunCmd(t *testing.T) {
	t.Run("Should run workflows and print their data", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		out, err := execute(t, "run", path, "--data", "amount=20")
		require.NoError(t, err)

		var results []RunResult
		require.NoError(t, yaml.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.True(t, results[0].Completed)
		assert.True(t, results[0].Success)
		assert.Equal(t, "approval", results[0].Process)
		assert.Equal(t, true, results[0].Data["approved"])
		assert.Equal(t, 20, results[0].Data["total"])
	})

	t.Run("Should stop at manual tasks unless auto-manual is set", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		out, err := execute(t, "run", path, "--data", "amount=500")
		require.NoError(t, err)
		var results []RunResult
		require.NoError(t, yaml.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.False(t, results[0].Completed)

		out, err = execute(t, "run", path, "--data", "amount=500", "--auto-manual")
		require.NoError(t, err)
		results = nil
		require.NoError(t, yaml.Unmarshal([]byte(out), &results))
		assert.True(t, results[0].Completed)
		assert.Equal(t, 500, results[0].Data["total"])
	})

	t.Run("Should run several files independently", func(t *testing.T) {
		a := writeDefinition(t, "a.yaml", approvalYAML)
		b := writeDefinition(t, "b.yaml", approvalYAML)
		out, err := execute(t, "run", a, b, "--data", "amount=1")
		require.NoError(t, err)
		var results []RunResult
		require.NoError(t, yaml.Unmarshal([]byte(out), &results))
		require.Len(t, results, 2)
		assert.Equal(t, a, results[0].File)
		assert.Equal(t, b, results[1].File)
	})

	t.Run("Should report a step limit", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		_, err := execute(t, "run", path, "--data", "amount=1", "--max-steps", "1")
		assert.Error(t, err)
	})

	t.Run("Should reject malformed data", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		_, err := execute(t, "run", path, "--data", "oops")
		assert.ErrorContains(t, err, "expected key=value")
	})
}

func TestResumeCmd(t *testing.T) {
	t.Run("Should resume a halted workflow saved in Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		url := "redis://" + mr.Addr()
		path := writeDefinition(t, "approval.yaml", approvalYAML)

		out, err := execute(t, "run", path, "--data", "amount=500", "--save", "--store-url", url)
		require.NoError(t, err)
		var results []RunResult
		require.NoError(t, yaml.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		require.False(t, results[0].Completed)
		require.True(t, results[0].Saved)
		id := results[0].ID

		out, err = execute(t, "resume", id, path, "--auto-manual", "--store-url", url)
		require.NoError(t, err)
		results = nil
		require.NoError(t, yaml.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.Equal(t, id, results[0].ID)
		assert.True(t, results[0].Completed)
		assert.Equal(t, 500, results[0].Data["total"])
	})

	t.Run("Should fail for an unknown workflow", func(t *testing.T) {
		mr := miniredis.RunT(t)
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		_, err := execute(t, "resume", core.MustNewID().String(), path, "--store-url", "redis://"+mr.Addr())
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("Should reject a malformed workflow id", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		_, err := execute(t, "resume", "missing", path)
		assert.ErrorContains(t, err, "invalid workflow id")
	})
}

func TestValidateCmd(t *testing.T) {
	t.Run("Should report valid and invalid files", func(t *testing.T) {
		good := writeDefinition(t, "good.yaml", approvalYAML)
		bad := writeDefinition(t, "bad.yaml", "name: bad\ntasks:\n  - {id: a, type: nope}\nstart: a\nend: a\n")
		out, err := execute(t, "validate", good, bad)
		require.Error(t, err)
		assert.Contains(t, out, good+": ok (approval")
		assert.Contains(t, out, bad+": invalid")
	})
}

func TestTreeCmd(t *testing.T) {
	t.Run("Should print the predicted tree", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		out, err := execute(t, "tree", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Start")
		assert.Contains(t, out, "check")
		assert.Contains(t, out, "review")
	})
	t.Run("Should filter by state", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		out, err := execute(t, "tree", path, "--state", "COMPLETED")
		require.NoError(t, err)
		assert.Contains(t, out, "no tasks in state COMPLETED")
	})
	t.Run("Should reject an unknown state", func(t *testing.T) {
		path := writeDefinition(t, "approval.yaml", approvalYAML)
		_, err := execute(t, "tree", path, "--state", "SLEEPING")
		assert.ErrorContains(t, err, "unknown task state")
	})
}
