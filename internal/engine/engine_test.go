package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/plan"
	"github.com/mattjoyce/tend/internal/vcs"
	"github.com/mattjoyce/tend/internal/vcs/mocks"
	"github.com/mattjoyce/tend/internal/workspace"
)

const testRoot = "/srv/work"

func cloneAction(name string) plan.Action {
	return plan.Action{
		Kind: plan.KindClone,
		Spec: workspace.RepoSpec{
			Name: name,
			URL:  "git@github.com:acme/" + name + ".git",
			Ref:  "main",
			Path: name,
		},
	}
}

// newTestEngine builds an engine whose retries do not sleep.
func newTestEngine(adapter vcs.Adapter, store ledger.Store) *Engine {
	e := New(adapter, store, Config{
		Concurrency: 2,
		MaxAttempts: 3,
		Backoff:     BackoffConfig{Base: time.Millisecond, Max: time.Millisecond},
	})
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func retryableErr(op string) error {
	return &vcs.Error{Op: op, Class: vcs.ClassNetwork, Err: errors.New("connection reset")}
}

func terminalErr(op string) error {
	return &vcs.Error{Op: op, Class: vcs.ClassAuth, Err: errors.New("permission denied (publickey)")}
}

func TestExecuteCloneSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), "git@github.com:acme/srv.git", "main", testRoot+"/srv", vcs.CloneOptions{}).
		Return(nil)

	store := ledger.NewMemStore()
	e := newTestEngine(adapter, store)

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{cloneAction("srv")})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	out := res.Outcomes[0]
	assert.Equal(t, ledger.StatusSucceeded, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.NotEmpty(t, res.RunID)

	entry, err := store.Get(context.Background(), "acme", "srv")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ledger.StatusSucceeded, entry.Status)
	assert.Equal(t, res.RunID, entry.RunID)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	gomock.InOrder(
		adapter.EXPECT().Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(retryableErr("clone")),
		adapter.EXPECT().Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(retryableErr("clone")),
		adapter.EXPECT().Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
	)

	e := newTestEngine(adapter, ledger.NewMemStore())

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{cloneAction("srv")})
	require.NoError(t, err)

	out := res.Outcomes[0]
	assert.Equal(t, ledger.StatusSucceeded, out.Status)
	assert.Equal(t, 3, out.Attempts)
}

func TestExecuteStopsAfterMaxAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(retryableErr("clone")).
		Times(3)

	store := ledger.NewMemStore()
	e := newTestEngine(adapter, store)

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{cloneAction("srv")})
	require.NoError(t, err)

	out := res.Outcomes[0]
	assert.Equal(t, ledger.StatusFailed, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Contains(t, out.Reason, "connection reset")

	entry, _ := store.Get(context.Background(), "acme", "srv")
	require.NotNil(t, entry)
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
}

func TestExecuteDoesNotRetryTerminalFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(terminalErr("clone")).
		Times(1)

	e := newTestEngine(adapter, ledger.NewMemStore())

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{cloneAction("srv")})
	require.NoError(t, err)

	out := res.Outcomes[0]
	assert.Equal(t, ledger.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecuteFetchCheckoutSequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	action := cloneAction("srv")
	action.Kind = plan.KindFetchCheckout

	adapter := mocks.NewMockAdapter(ctrl)
	gomock.InOrder(
		adapter.EXPECT().Fetch(gomock.Any(), testRoot+"/srv").Return(nil),
		adapter.EXPECT().Checkout(gomock.Any(), testRoot+"/srv", "main").Return(nil),
	)

	e := newTestEngine(adapter, ledger.NewMemStore())

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{action})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, res.Outcomes[0].Status)
}

func TestExecuteConflictNeverTouchesAdapter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No EXPECT calls: any adapter use fails the test.
	adapter := mocks.NewMockAdapter(ctrl)
	store := ledger.NewMemStore()
	e := newTestEngine(adapter, store)

	action := cloneAction("srv")
	action.Kind = plan.KindConflict
	action.Reason = "working tree has uncommitted changes"

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{action})
	require.NoError(t, err)

	out := res.Outcomes[0]
	assert.Equal(t, ledger.StatusConflict, out.Status)
	assert.Equal(t, "working tree has uncommitted changes", out.Reason)

	entry, _ := store.Get(context.Background(), "acme", "srv")
	require.NotNil(t, entry)
	assert.Equal(t, ledger.StatusConflict, entry.Status)
}

func TestExecuteResumesFromLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	action := cloneAction("srv")

	store := ledger.NewMemStore()
	require.NoError(t, store.Put(context.Background(), ledger.Entry{
		Workspace:   "acme",
		Repo:        "srv",
		Fingerprint: action.Spec.Fingerprint(),
		Action:      string(plan.KindClone),
		Status:      ledger.StatusSucceeded,
		RunID:       "prior-run",
		Attempts:    1,
	}))

	// The adapter must not be called for a resumed action.
	adapter := mocks.NewMockAdapter(ctrl)
	e := newTestEngine(adapter, store)

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{action})
	require.NoError(t, err)

	out := res.Outcomes[0]
	assert.Equal(t, ledger.StatusSkipped, out.Status)
	assert.True(t, out.Resumed)

	// The prior entry survives untouched so the archive step still sees it.
	entry, _ := store.Get(context.Background(), "acme", "srv")
	require.NotNil(t, entry)
	assert.Equal(t, "prior-run", entry.RunID)
}

func TestExecuteIgnoresStaleLedgerEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	action := cloneAction("srv")

	// Prior success recorded under a different spec fingerprint: the
	// declaration changed since, so the repo must be reprocessed.
	store := ledger.NewMemStore()
	require.NoError(t, store.Put(context.Background(), ledger.Entry{
		Workspace:   "acme",
		Repo:        "srv",
		Fingerprint: "stale",
		Action:      string(plan.KindClone),
		Status:      ledger.StatusSucceeded,
	}))

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil)

	e := newTestEngine(adapter, store)

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{action})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, res.Outcomes[0].Status)
	assert.False(t, res.Outcomes[0].Resumed)
}

func TestExecuteIsolatesFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	good := cloneAction("good")
	bad := cloneAction("bad")

	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Clone(gomock.Any(), good.Spec.URL, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil)
	adapter.EXPECT().
		Clone(gomock.Any(), bad.Spec.URL, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(terminalErr("clone"))

	e := newTestEngine(adapter, ledger.NewMemStore())

	res, err := e.Execute(context.Background(), "acme", testRoot, []plan.Action{good, bad})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)

	byRepo := map[string]Outcome{}
	for _, o := range res.Outcomes {
		byRepo[o.Repo] = o
	}
	assert.Equal(t, ledger.StatusSucceeded, byRepo["good"].Status)
	assert.Equal(t, ledger.StatusFailed, byRepo["bad"].Status)
}

func TestExecuteCanceledContextSkipsLaunch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	adapter := mocks.NewMockAdapter(ctrl)
	e := newTestEngine(adapter, ledger.NewMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Execute(ctx, "acme", testRoot, []plan.Action{cloneAction("a"), cloneAction("b")})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	for _, o := range res.Outcomes {
		assert.Equal(t, ledger.StatusSkipped, o.Status)
		assert.Equal(t, "run canceled before launch", o.Reason)
	}
}

func TestNextDelayRespectsBounds(t *testing.T) {
	cfg := BackoffConfig{Base: 2 * time.Second, Max: 30 * time.Second, Jitter: true}
	e := newTestEngine(nil, ledger.NewMemStore())

	for attempt := 1; attempt <= 10; attempt++ {
		for range 50 {
			d := nextDelay(cfg, attempt, e.rng)
			assert.Greater(t, d, time.Duration(0))
			// Jitter can extend by half above the cap, never more.
			assert.LessOrEqual(t, d, cfg.Max+cfg.Max/2)
		}
	}
}
