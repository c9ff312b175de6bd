package flake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	dir  string
	name string
	args []string
}

// fakeRunner records commands and replies from a scripted response map
// keyed by "name arg arg...".
type fakeRunner struct {
	calls     []call
	responses map[string]error
}

func (f *fakeRunner) run(_ context.Context, dir, name string, args ...string) (string, error) {
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	key := name + " " + strings.Join(args, " ")
	if err, ok := f.responses[key]; ok {
		return "", err
	}
	return "", nil
}

func (f *fakeRunner) commandLines() []string {
	var lines []string
	for _, c := range f.calls {
		lines = append(lines, c.name+" "+strings.Join(c.args, " "))
	}
	return lines
}

func newTestRunner(t *testing.T, repos ...string) (*Runner, *fakeRunner, string) {
	t.Helper()
	root := t.TempDir()
	for _, repo := range repos {
		require.NoError(t, os.MkdirAll(filepath.Join(root, repo), 0o755))
	}

	fake := &fakeRunner{responses: map[string]error{
		// Staged changes exist, so the diff check exits non-zero.
		"git diff --cached --quiet": errors.New("exit status 1"),
	}}

	var out bytes.Buffer
	r := NewRunner(root, &out)
	r.runCmd = fake.run
	return r, fake, root
}

func TestExecuteRunsFullStep(t *testing.T) {
	r, fake, root := newTestRunner(t, "app")

	chain := []Step{{Repo: "app", Inputs: []string{"lib"}}}
	require.NoError(t, r.Execute(context.Background(), chain, false, true))

	assert.Equal(t, []string{
		"git status --porcelain",
		"nix flake update lib",
		"git add flake.lock",
		"git diff --cached --quiet",
		"git commit -m chore: update lib",
		"git push",
	}, fake.commandLines())

	for _, c := range fake.calls {
		assert.Equal(t, filepath.Join(root, "app"), c.dir)
	}
}

func TestExecuteStopsOnUnchangedLock(t *testing.T) {
	r, fake, _ := newTestRunner(t, "app")

	// diff --cached --quiet succeeding means nothing was staged.
	fake.responses = map[string]error{}

	chain := []Step{{Repo: "app", Inputs: []string{"lib"}}}
	require.NoError(t, r.Execute(context.Background(), chain, false, true))

	lines := fake.commandLines()
	assert.NotContains(t, lines, "git push")
	assert.NotContains(t, lines, "git commit -m chore: update lib")
}

func TestExecuteRefusesDirtyTree(t *testing.T) {
	r, fake, _ := newTestRunner(t, "app")

	r.runCmd = func(ctx context.Context, dir, name string, args ...string) (string, error) {
		if name == "git" && args[0] == "status" {
			return " M flake.nix", nil
		}
		return fake.run(ctx, dir, name, args...)
	}

	chain := []Step{{Repo: "app", Inputs: []string{"lib"}}}
	err := r.Execute(context.Background(), chain, false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty")
	assert.Empty(t, fake.commandLines())
}

func TestExecuteDryRunTouchesNothing(t *testing.T) {
	r, fake, _ := newTestRunner(t, "app", "lib2")

	chain := []Step{
		{Repo: "app", Inputs: []string{"lib"}},
		{Repo: "lib2", Inputs: []string{"lib"}},
	}
	var out bytes.Buffer
	r.out = &out

	require.NoError(t, r.Execute(context.Background(), chain, true, false))
	assert.Empty(t, fake.calls)
	assert.Contains(t, out.String(), "dry-run")
}

func TestExecuteAbortsChainOnFailure(t *testing.T) {
	r, fake, _ := newTestRunner(t, "first", "second")
	fake.responses["nix flake update lib"] = fmt.Errorf("update failed")

	chain := []Step{
		{Repo: "first", Inputs: []string{"lib"}},
		{Repo: "second", Inputs: []string{"first"}},
	}
	err := r.Execute(context.Background(), chain, false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")

	// The second step never starts.
	for _, c := range fake.calls {
		assert.NotContains(t, c.dir, "second")
	}
}

func TestExecuteMissingRepoDir(t *testing.T) {
	r, _, _ := newTestRunner(t)

	chain := []Step{{Repo: "ghost", Inputs: []string{"lib"}}}
	err := r.Execute(context.Background(), chain, false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
