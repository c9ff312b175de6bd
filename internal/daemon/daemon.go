// Package daemon runs periodic reconcile cycles and serves the status API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/tend/internal/api"
	"github.com/mattjoyce/tend/internal/config"
	"github.com/mattjoyce/tend/internal/engine"
	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/provider"
	"github.com/mattjoyce/tend/internal/reconcile"
	"github.com/mattjoyce/tend/internal/report"
	"github.com/mattjoyce/tend/internal/vcs"
	"github.com/mattjoyce/tend/internal/workspace"
)

// Options control a daemon instance.
type Options struct {
	ConfigPath string
	// Workspace limits cycles to a single named workspace. Empty means all.
	Workspace string
	// Interval overrides the configured cycle interval when non-zero.
	Interval time.Duration
}

// Daemon reconciles workspaces on a fixed interval. Configuration is
// reloaded at the top of every cycle so edits take effect without a
// restart.
type Daemon struct {
	opts      Options
	store     ledger.Store
	adapter   vcs.Adapter
	discover  func(ctx context.Context, org string) ([]string, error)
	logger    *slog.Logger
	startedAt time.Time

	mu   sync.RWMutex
	snap api.Snapshot
}

// New creates a daemon. The ledger store and VCS adapter are shared
// across cycles; config is re-read each cycle.
func New(opts Options, store ledger.Store, adapter vcs.Adapter, logger *slog.Logger) *Daemon {
	gh := provider.NewGitHub()
	return &Daemon{
		opts:      opts,
		store:     store,
		adapter:   adapter,
		discover:  gh.Discover,
		logger:    logger.With("component", "daemon"),
		startedAt: time.Now(),
	}
}

// Snapshot returns the current daemon state for the status API.
func (d *Daemon) Snapshot() api.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Run executes reconcile cycles until ctx is canceled. The first cycle
// starts immediately. When the config enables the API, the server runs
// for the lifetime of the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	cfg, err := config.Load(d.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	interval := d.opts.Interval
	if interval <= 0 {
		interval = cfg.Daemon.Interval
	}

	d.mu.Lock()
	d.snap = api.Snapshot{
		StartedAt: d.startedAt,
		Interval:  interval.String(),
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	if cfg.Daemon.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.Daemon.API.Listen}, d, d.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("api server exited", "error", err)
			}
		}()
	}

	d.logger.Info("daemon starting", "interval", interval.String())

	d.cycle(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.cycle(ctx, interval)
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			wg.Wait()
			return ctx.Err()
		}
	}
}

// cycle reloads config and reconciles each selected workspace in turn.
// A failure in one workspace does not stop the others. interval is the
// effective tick period, which may override the configured one.
func (d *Daemon) cycle(ctx context.Context, interval time.Duration) {
	start := time.Now()

	cfg, err := config.Load(d.opts.ConfigPath)
	if err != nil {
		d.logger.Error("cycle skipped, config reload failed", "error", err)
		return
	}

	engCfg := engine.Config{
		Concurrency: cfg.Engine.Concurrency,
		MaxAttempts: cfg.Engine.MaxAttempts,
		Backoff: engine.BackoffConfig{
			Base: cfg.Engine.BackoffBase,
			Max:  cfg.Engine.BackoffMax,
		},
		OpTimeout: cfg.Engine.OpTimeout,
	}
	rec := reconcile.New(d.adapter, d.store, engCfg)

	var statuses []api.WorkspaceStatus
	for _, wsCfg := range cfg.Workspaces {
		if d.opts.Workspace != "" && wsCfg.Name != d.opts.Workspace {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		statuses = append(statuses, d.reconcileWorkspace(ctx, rec, wsCfg, cfg.Daemon.Fetch))
	}

	d.mu.Lock()
	d.snap.CycleCount++
	d.snap.LastCycle = start
	d.snap.NextCycle = start.Add(interval)
	d.snap.Workspaces = statuses
	d.mu.Unlock()

	d.logger.Info("cycle complete",
		"workspaces", len(statuses),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (d *Daemon) reconcileWorkspace(ctx context.Context, rec *reconcile.Reconciler, wsCfg config.WorkspaceConfig, fetch bool) api.WorkspaceStatus {
	status := api.WorkspaceStatus{Name: wsCfg.Name, Root: wsCfg.BaseDir}

	var discovered []string
	if wsCfg.Discover {
		var err error
		discovered, err = d.discover(ctx, wsCfg.Org)
		if err != nil {
			d.logger.Error("discovery failed", "workspace", wsCfg.Name, "error", err)
			status.Status = "discovery_failed"
			status.FinishedAt = time.Now()
			return status
		}
	}

	ws, err := workspace.FromConfig(wsCfg, discovered)
	if err != nil {
		d.logger.Error("workspace invalid", "workspace", wsCfg.Name, "error", err)
		status.Status = "invalid"
		status.FinishedAt = time.Now()
		return status
	}

	rep, err := rec.Reconcile(ctx, ws)
	if err != nil {
		d.logger.Error("reconcile failed", "workspace", wsCfg.Name, "error", err)
		status.Status = "error"
		status.FinishedAt = time.Now()
		return status
	}

	if fetch {
		d.fetchPass(ctx, ws, rep)
	}

	return toWorkspaceStatus(wsCfg, rep)
}

// fetchPass refreshes remote refs for repos the run left untouched, so
// a later checkout sees current branches without mutating worktrees.
func (d *Daemon) fetchPass(ctx context.Context, ws workspace.Workspace, rep report.Report) {
	paths := make(map[string]string, len(ws.Specs))
	for _, spec := range ws.Specs {
		paths[spec.Name] = filepath.Join(ws.Root, spec.Path)
	}
	for _, o := range rep.Outcomes {
		if o.Status != ledger.StatusSkipped || ctx.Err() != nil {
			continue
		}
		if path, ok := paths[o.Repo]; ok {
			if err := d.adapter.Fetch(ctx, path); err != nil {
				d.logger.Warn("background fetch failed", "repo", o.Repo, "error", err)
			}
		}
	}
}

func toWorkspaceStatus(wsCfg config.WorkspaceConfig, rep report.Report) api.WorkspaceStatus {
	succeeded, skipped, failed, conflicts := rep.Counts()
	status := api.WorkspaceStatus{
		Name:       wsCfg.Name,
		Root:       wsCfg.BaseDir,
		RunID:      rep.RunID,
		Status:     string(rep.Status),
		Succeeded:  succeeded,
		Failed:     failed,
		Conflicts:  conflicts,
		Skipped:    skipped,
		FinishedAt: time.Now(),
	}
	for _, o := range rep.Outcomes {
		status.Repos = append(status.Repos, api.RepoStatus{
			Name:     o.Repo,
			Action:   string(o.Action),
			Status:   string(o.Status),
			Reason:   o.Reason,
			Attempts: o.Attempts,
		})
	}
	return status
}
