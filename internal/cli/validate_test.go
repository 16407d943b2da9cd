package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateHarnessScenarios(t *testing.T) {
	out, err := runValidateCommand(t, "text", harnessScenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "scenario file(s) valid")
}

func TestValidateHarnessScenariosJSON(t *testing.T) {
	out, err := runValidateCommand(t, "json", harnessScenarios)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateInvalidScenarios(t *testing.T) {
	invalid := filepath.Join("..", "harness", "testdata", "invalid")

	out, err := runValidateCommand(t, "text", invalid)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E006]")
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "unknown_field.yaml")
}

func TestValidateInvalidScenariosJSON(t *testing.T) {
	invalid := filepath.Join("..", "harness", "testdata", "invalid", "bad_expect.yaml")

	out, err := runValidateCommand(t, "json", invalid)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidScenario, resp.Error.Code)
}

func TestValidateNonExistentPath(t *testing.T) {
	_, err := runValidateCommand(t, "text", "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "path not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := runValidateCommand(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files found")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := runValidateCommand(t, "text")
	require.Error(t, err)
}
