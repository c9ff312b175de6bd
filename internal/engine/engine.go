// Package engine executes a plan with bounded concurrency, retrying
// transient failures and recording every outcome in the run ledger so
// interrupted runs resume instead of repeating work.
package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/log"
	"github.com/mattjoyce/tend/internal/plan"
	"github.com/mattjoyce/tend/internal/vcs"
)

// Config bounds the engine. Zero values fall back to safe defaults.
type Config struct {
	// Concurrency caps in-flight operations. Never unbounded: remote
	// endpoints and local disk both have limits.
	Concurrency int
	// MaxAttempts bounds retries of retryable failures per action.
	MaxAttempts int
	// Backoff schedules the delays between attempts.
	Backoff BackoffConfig
	// OpTimeout bounds each individual adapter call.
	OpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.Backoff.Base == 0 {
		c.Backoff = BackoffConfig{Base: 2 * time.Second, Max: 30 * time.Second, Jitter: true}
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Minute
	}
	return c
}

// Outcome is the final result of executing one Action.
type Outcome struct {
	Repo     string
	Action   plan.Kind
	Status   ledger.Status
	Reason   string
	Attempts int
	// Resumed marks outcomes satisfied by a prior run's ledger entry.
	Resumed  bool
	Duration time.Duration
}

// Result is what one Execute call produces.
type Result struct {
	RunID    string
	Outcomes []Outcome
}

// Engine drives plan execution through the VCS adapter.
type Engine struct {
	vcs    vcs.Adapter
	store  ledger.Store
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	// sleep is swappable so retry tests don't wait on real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine using the given adapter and ledger store.
func New(adapter vcs.Adapter, store ledger.Store, cfg Config) *Engine {
	return &Engine{
		vcs:    adapter,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: log.WithComponent("engine"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs every action against the workspace rooted at root.
// Actions touch disjoint target paths, so they run in parallel up to
// the concurrency bound; each worker owns one action end to end,
// including its retries. Cancellation stops new actions from launching
// and lets in-flight ones finish naturally. Execute always returns one
// outcome per action; actions never launched due to cancellation are
// reported as skipped.
func (e *Engine) Execute(ctx context.Context, workspaceName, root string, actions []plan.Action) (*Result, error) {
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "workspace", workspaceName)
	logger.Info("run started", "actions", len(actions), "concurrency", e.cfg.Concurrency)

	outcomes := make([]Outcome, len(actions))

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for i, action := range actions {
		if ctx.Err() != nil {
			outcomes[i] = Outcome{
				Repo:   action.Spec.Name,
				Action: action.Kind,
				Status: ledger.StatusSkipped,
				Reason: "run canceled before launch",
			}
			continue
		}
		g.Go(func() error {
			outcomes[i] = e.runAction(ctx, workspaceName, root, runID, action)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("run finished")
	return &Result{RunID: runID, Outcomes: outcomes}, nil
}

// runAction executes one action to completion and persists its outcome.
func (e *Engine) runAction(ctx context.Context, workspaceName, root, runID string, action plan.Action) Outcome {
	logger := e.logger.With("run_id", runID, "repo", action.Spec.Name, "action", string(action.Kind))
	start := time.Now()

	outcome := Outcome{Repo: action.Spec.Name, Action: action.Kind}

	// Resume: an action whose repo already succeeded under the same
	// spec in a prior interrupted run has nothing left to do.
	if prior, err := e.store.Get(ctx, workspaceName, action.Spec.Name); err != nil {
		logger.Warn("ledger read failed, executing without resume", "error", err)
	} else if prior != nil && prior.Status == ledger.StatusSucceeded && prior.Fingerprint == action.Spec.Fingerprint() {
		logger.Debug("resumed from ledger", "prior_run_id", prior.RunID)
		outcome.Status = ledger.StatusSkipped
		outcome.Reason = "completed in a previous run"
		outcome.Resumed = true
		outcome.Duration = time.Since(start)
		return outcome
	}

	switch action.Kind {
	case plan.KindSkip:
		outcome.Status = ledger.StatusSkipped
		outcome.Reason = action.Reason

	case plan.KindConflict:
		// Conflicts are never retried and never auto-resolved.
		outcome.Status = ledger.StatusConflict
		outcome.Reason = action.Reason
		logger.Warn("conflict requires operator attention", "reason", action.Reason)

	case plan.KindClone, plan.KindFetchCheckout:
		status, reason, attempts := e.applyWithRetry(ctx, root, action, logger)
		outcome.Status = status
		outcome.Reason = reason
		outcome.Attempts = attempts

	default:
		outcome.Status = ledger.StatusFailed
		outcome.Reason = "unknown action kind"
	}

	outcome.Duration = time.Since(start)
	e.record(ctx, workspaceName, runID, action, outcome, logger)
	return outcome
}

// applyWithRetry performs the mutating adapter calls for one action,
// retrying retryable failures with exponential backoff.
func (e *Engine) applyWithRetry(ctx context.Context, root string, action plan.Action, logger *slog.Logger) (ledger.Status, string, int) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
		err := e.apply(opCtx, root, action)
		cancel()

		if err == nil {
			logger.Info("action succeeded", "attempt", attempt)
			return ledger.StatusSucceeded, "", attempt
		}
		lastErr = err

		if !vcs.Retryable(err) {
			logger.Error("action failed", "attempt", attempt, "class", string(vcs.ClassOf(err)), "error", err)
			return ledger.StatusFailed, err.Error(), attempt
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			// Canceled mid-retry: do not restart the operation.
			return ledger.StatusFailed, lastErr.Error(), attempt
		}

		e.mu.Lock()
		delay := nextDelay(e.cfg.Backoff, attempt, e.rng)
		e.mu.Unlock()
		logger.Warn("retryable failure, backing off", "attempt", attempt, "delay", delay, "error", err)
		if err := e.sleep(ctx, delay); err != nil {
			return ledger.StatusFailed, lastErr.Error(), attempt
		}
	}

	logger.Error("retries exhausted", "attempts", e.cfg.MaxAttempts, "error", lastErr)
	return ledger.StatusFailed, lastErr.Error(), e.cfg.MaxAttempts
}

func (e *Engine) apply(ctx context.Context, root string, action plan.Action) error {
	target := filepath.Join(root, action.Spec.Path)

	switch action.Kind {
	case plan.KindClone:
		return e.vcs.Clone(ctx, action.Spec.URL, action.Spec.Ref, target, vcs.CloneOptions{
			Shallow:    action.Spec.Shallow,
			Submodules: action.Spec.Submodules,
		})
	case plan.KindFetchCheckout:
		if err := e.vcs.Fetch(ctx, target); err != nil {
			return err
		}
		return e.vcs.Checkout(ctx, target, action.Spec.Ref)
	}
	return nil
}

// record writes the finalized outcome to the ledger. The entry is
// written exactly once per action, after its last attempt. Ledger
// failures degrade resumability but never fail the run.
func (e *Engine) record(ctx context.Context, workspaceName, runID string, action plan.Action, outcome Outcome, logger *slog.Logger) {
	attempts := outcome.Attempts
	if attempts < 1 {
		attempts = 1
	}
	entry := ledger.Entry{
		Workspace:   workspaceName,
		Repo:        action.Spec.Name,
		Fingerprint: action.Spec.Fingerprint(),
		Action:      string(action.Kind),
		Status:      outcome.Status,
		Reason:      outcome.Reason,
		RunID:       runID,
		Attempts:    attempts,
		CompletedAt: time.Now().UTC(),
	}
	if err := e.store.Put(ctx, entry); err != nil {
		logger.Error("failed to persist ledger entry", "error", err)
	}
}
