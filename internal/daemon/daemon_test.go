package daemon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/vcs"
	"github.com/mattjoyce/tend/internal/vcs/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func writeDaemonConfig(t *testing.T, fetch bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
daemon:
  interval: 1m
`
	if fetch {
		content += "  fetch: true\n"
	}
	content += `
workspaces:
  - name: acme
    base_dir: ` + filepath.Join(dir, "work") + `
    org: acme
    repos:
      - name: api
        ref: main
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCycleReconcilesAndUpdatesSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	path := writeDaemonConfig(t, false)

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), "git@github.com:acme/api.git", "main", gomock.Any(), gomock.Any()).
		Return(nil)

	d := New(Options{ConfigPath: path}, ledger.NewMemStore(), adapter, testLogger())
	d.cycle(context.Background(), time.Minute)

	snap := d.Snapshot()
	assert.Equal(t, 1, snap.CycleCount)
	require.Len(t, snap.Workspaces, 1)

	ws := snap.Workspaces[0]
	assert.Equal(t, "acme", ws.Name)
	assert.Equal(t, "all_succeeded", ws.Status)
	assert.Equal(t, 1, ws.Succeeded)
	require.Len(t, ws.Repos, 1)
	assert.Equal(t, "api", ws.Repos[0].Name)
}

func TestCycleFetchPassRefreshesSkippedRepos(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	path := writeDaemonConfig(t, true)

	// The repo is already converged, so the cycle skips it and the
	// fetch pass refreshes its remote refs.
	workDir := filepath.Join(filepath.Dir(path), "work", "api")
	require.NoError(t, os.MkdirAll(workDir, 0o755))

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Status(gomock.Any(), workDir).
		Return(vcs.Status{IsRepo: true, Ref: "main", RemoteURL: "git@github.com:acme/api.git"}, nil)
	adapter.EXPECT().Fetch(gomock.Any(), workDir).Return(nil)

	d := New(Options{ConfigPath: path}, ledger.NewMemStore(), adapter, testLogger())
	d.cycle(context.Background(), time.Minute)

	snap := d.Snapshot()
	require.Len(t, snap.Workspaces, 1)
	assert.Equal(t, 1, snap.Workspaces[0].Skipped)
}

func TestCycleSkipsUnnamedWorkspaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	path := writeDaemonConfig(t, false)

	adapter := mocks.NewMockAdapter(ctrl)

	d := New(Options{ConfigPath: path, Workspace: "other"}, ledger.NewMemStore(), adapter, testLogger())
	d.cycle(context.Background(), time.Minute)

	snap := d.Snapshot()
	assert.Equal(t, 1, snap.CycleCount)
	assert.Empty(t, snap.Workspaces)
}

func TestCycleSurvivesBrokenConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workspaces: ["), 0o644))

	adapter := mocks.NewMockAdapter(ctrl)
	d := New(Options{ConfigPath: path}, ledger.NewMemStore(), adapter, testLogger())

	// A reload failure skips the cycle instead of crashing the daemon.
	d.cycle(context.Background(), time.Minute)
	assert.Equal(t, 0, d.Snapshot().CycleCount)
}

// An interval override must show up in the snapshot's next-cycle time,
// not the interval from the config file.
func TestCycleNextCycleHonorsIntervalOverride(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	path := writeDaemonConfig(t, false)

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil)

	d := New(Options{ConfigPath: path}, ledger.NewMemStore(), adapter, testLogger())
	d.cycle(context.Background(), 5*time.Second)

	snap := d.Snapshot()
	assert.Equal(t, 5*time.Second, snap.NextCycle.Sub(snap.LastCycle))
}
