package report

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/tend/internal/engine"
	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/plan"
)

func outcome(repo string, status ledger.Status) engine.Outcome {
	return engine.Outcome{Repo: repo, Action: plan.KindClone, Status: status}
}

func TestSummarizeVerdicts(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ledger.Status
		want     Status
		exit     int
	}{
		{
			name:     "all succeeded",
			statuses: []ledger.Status{ledger.StatusSucceeded, ledger.StatusSucceeded},
			want:     AllSucceeded,
			exit:     0,
		},
		{
			name:     "skips count as success",
			statuses: []ledger.Status{ledger.StatusSkipped, ledger.StatusSucceeded},
			want:     AllSucceeded,
			exit:     0,
		},
		{
			name:     "empty run succeeded trivially",
			statuses: nil,
			want:     AllSucceeded,
			exit:     0,
		},
		{
			name:     "one failure among successes",
			statuses: []ledger.Status{ledger.StatusSucceeded, ledger.StatusFailed},
			want:     PartialFailure,
			exit:     1,
		},
		{
			name:     "conflict blocks a clean verdict",
			statuses: []ledger.Status{ledger.StatusSucceeded, ledger.StatusConflict},
			want:     PartialFailure,
			exit:     1,
		},
		{
			name:     "lone conflict is a warning, not a total failure",
			statuses: []ledger.Status{ledger.StatusConflict},
			want:     PartialFailure,
			exit:     1,
		},
		{
			name:     "conflict keeps a failing run out of total failure",
			statuses: []ledger.Status{ledger.StatusFailed, ledger.StatusConflict},
			want:     PartialFailure,
			exit:     1,
		},
		{
			name:     "every repo failed",
			statuses: []ledger.Status{ledger.StatusFailed, ledger.StatusFailed},
			want:     TotalFailure,
			exit:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []engine.Outcome
			for i, s := range tt.statuses {
				outcomes = append(outcomes, outcome(string(rune('a'+i)), s))
			}
			r := Summarize("acme", "run-1", outcomes)
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, tt.exit, r.ExitCode())
		})
	}
}

// The verdict must not depend on outcome order.
func TestSummarizeCommutative(t *testing.T) {
	outcomes := []engine.Outcome{
		outcome("a", ledger.StatusSucceeded),
		outcome("b", ledger.StatusFailed),
		outcome("c", ledger.StatusSkipped),
		outcome("d", ledger.StatusConflict),
	}

	want := Summarize("acme", "run-1", outcomes).Status

	rng := rand.New(rand.NewSource(1))
	for range 20 {
		shuffled := append([]engine.Outcome(nil), outcomes...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		assert.Equal(t, want, Summarize("acme", "run-1", shuffled).Status)
	}
}

func TestCounts(t *testing.T) {
	r := Summarize("acme", "run-1", []engine.Outcome{
		outcome("a", ledger.StatusSucceeded),
		outcome("b", ledger.StatusSucceeded),
		outcome("c", ledger.StatusSkipped),
		outcome("d", ledger.StatusFailed),
		outcome("e", ledger.StatusConflict),
	})

	succeeded, skipped, failed, conflicts := r.Counts()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, conflicts)
}

func TestRenderQuietHidesSkips(t *testing.T) {
	r := Summarize("acme", "run-1", []engine.Outcome{
		{Repo: "done", Action: plan.KindSkip, Status: ledger.StatusSkipped, Reason: "up to date"},
		{Repo: "fresh", Action: plan.KindClone, Status: ledger.StatusSucceeded},
	})

	var full bytes.Buffer
	Render(&full, r, false)
	assert.Contains(t, full.String(), "done")
	assert.Contains(t, full.String(), "fresh")

	var quiet bytes.Buffer
	Render(&quiet, r, true)
	assert.NotContains(t, quiet.String(), "done")
	assert.Contains(t, quiet.String(), "fresh")
}

func TestRenderShowsReasons(t *testing.T) {
	r := Summarize("acme", "run-1", []engine.Outcome{
		{Repo: "blocked", Action: plan.KindConflict, Status: ledger.StatusConflict, Reason: "working tree has uncommitted changes"},
	})

	var buf bytes.Buffer
	Render(&buf, r, false)
	out := buf.String()
	assert.True(t, strings.Contains(out, "uncommitted changes"), out)
}
