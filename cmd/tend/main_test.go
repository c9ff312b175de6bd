package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
workspaces:
  - name: acme
    base_dir: ` + filepath.Join(dir, "work") + `
    org: acme
    repos:
      - name: api
        ref: main
` + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunInitWritesStarterConfig(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.yaml")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runInit([]string{"-path", target})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workspaces:")
}

func TestRunInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(target, []byte("keep me"), 0o644))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runInit([]string{"-path", target})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Refusing to overwrite")

	data, _ := os.ReadFile(target)
	assert.Equal(t, "keep me", string(data))
}

func TestRunInitForceOverwrites(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runInit([]string{"-path", target, "-force"})
	})
	assert.Equal(t, 0, code)

	data, _ := os.ReadFile(target)
	assert.NotEqual(t, "old", string(data))
}

func TestRunListShowsDeclaredRepos(t *testing.T) {
	path := writeTestConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runList([]string{"-config", path})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "workspace acme")
	assert.Contains(t, stdout, "api")
	assert.Contains(t, stdout, "git@github.com:acme/api.git")
}

func TestRunListUnknownWorkspace(t *testing.T) {
	path := writeTestConfig(t, "")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runList([]string{"-config", path, "-workspace", "nope"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not configured")
}

func TestRunConfigCheckPassAndLock(t *testing.T) {
	path := writeTestConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"-config", path})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "PASSED")
	assert.Contains(t, stdout, "no checksum manifest")

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"-config", path})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, ".checksums")

	// After locking, check passes without the manifest note.
	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"-config", path})
	})
	assert.Equal(t, 0, code)
	assert.NotContains(t, stdout, "no checksum manifest")
}

func TestRunConfigCheckFailsOnTamper(t *testing.T) {
	path := writeTestConfig(t, "")

	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"-config", path})
	})
	require.Equal(t, 0, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte("\n# tampered\n")...), 0o644))

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"-config", path})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "FAILED")
}

func TestRunLedgerShowEmpty(t *testing.T) {
	path := writeTestConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runLedgerShow([]string{"-config", path})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "ledger empty")
}

func TestRunPlanOnEmptyWorkspaceShowsClones(t *testing.T) {
	path := writeTestConfig(t, "")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runPlan([]string{"-config", path})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "clone")
	assert.Contains(t, stdout, "tend sync")
}

func TestRunFlakeUpdateRequiresRepo(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runFlakeUpdate(nil)
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "-repo")
}

func TestRunFlakeUpdateDryRun(t *testing.T) {
	path := writeTestConfig(t, `    flake_deps:
      api: [lib]
`)

	// Create the workspace layout the chain expects.
	cfgDir := filepath.Dir(path)
	require.NoError(t, os.MkdirAll(filepath.Join(cfgDir, "work", "api"), 0o755))

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runFlakeUpdate([]string{"-config", path, "-repo", "lib", "-dry-run"})
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "api")
	assert.Contains(t, stdout, "dry-run")
}

func TestShortRunID(t *testing.T) {
	assert.Equal(t, "a1b2c3d4", shortRunID("a1b2c3d4-0000-1111-2222-333333333333"))
	assert.Equal(t, "plain", shortRunID("plain"))
}

func TestUsageListsEveryCommand(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		printUsage()
		return 0
	})
	assert.Equal(t, 0, code)
	for _, cmd := range []string{"sync", "plan", "status", "list", "discover", "daemon", "watch", "flake-update", "init", "ledger", "version"} {
		assert.True(t, strings.Contains(stdout, cmd), cmd)
	}
}
