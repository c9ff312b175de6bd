// Package reconcile wires the prober, planner, and engine into the one
// operation the CLI calls per workspace: reconcile desired state against
// disk and report what happened.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/tend/internal/engine"
	"github.com/mattjoyce/tend/internal/ledger"
	"github.com/mattjoyce/tend/internal/log"
	"github.com/mattjoyce/tend/internal/plan"
	"github.com/mattjoyce/tend/internal/probe"
	"github.com/mattjoyce/tend/internal/report"
	"github.com/mattjoyce/tend/internal/vcs"
	"github.com/mattjoyce/tend/internal/workspace"
)

// Reconciler owns the probe → plan → execute → summarize pipeline.
type Reconciler struct {
	prober *probe.Prober
	engine *engine.Engine
	store  ledger.Store
	logger *slog.Logger

	// probeLimit bounds concurrent probes; defaults to the engine bound.
	probeLimit int
}

// New assembles a Reconciler from its collaborators.
func New(adapter vcs.Adapter, store ledger.Store, engineCfg engine.Config) *Reconciler {
	return &Reconciler{
		prober:     probe.New(adapter),
		engine:     engine.New(adapter, store, engineCfg),
		store:      store,
		logger:     log.WithComponent("reconcile"),
		probeLimit: engineCfg.Concurrency,
	}
}

// Plan probes the workspace and returns the action per repo without
// executing anything. Used by `tend plan` and `tend status`.
func (r *Reconciler) Plan(ctx context.Context, ws workspace.Workspace) ([]plan.Action, error) {
	states, err := r.prober.ProbeAll(ctx, ws.Root, ws.Specs, r.probeLimit)
	if err != nil {
		return nil, fmt.Errorf("probe workspace %q: %w", ws.Name, err)
	}
	return plan.All(ws.Specs, states), nil
}

// Reconcile drives one workspace to its declared state and returns the
// run report. Per-repo failures never abort the run; only workspace
// validation (already done when ws was built) is fatal.
func (r *Reconciler) Reconcile(ctx context.Context, ws workspace.Workspace) (report.Report, error) {
	actions, err := r.Plan(ctx, ws)
	if err != nil {
		return report.Report{}, err
	}

	result, err := r.engine.Execute(ctx, ws.Name, ws.Root, actions)
	if err != nil {
		return report.Report{}, fmt.Errorf("execute plan for workspace %q: %w", ws.Name, err)
	}

	rep := report.Summarize(ws.Name, result.RunID, result.Outcomes)

	// A fully successful run clears the ledger so stale entries cannot
	// mask future divergence; failures keep it for resume.
	if rep.Status == report.AllSucceeded && ctx.Err() == nil {
		if err := r.store.Archive(ctx, ws.Name); err != nil {
			r.logger.Warn("failed to archive run ledger", "workspace", ws.Name, "error", err)
		}
	}

	return rep, nil
}
