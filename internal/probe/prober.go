// Package probe inspects the filesystem and the working copies inside a
// workspace to produce comparable state snapshots. Probing never mutates
// anything; it is safe to run in parallel across repos.
package probe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/tend/internal/log"
	"github.com/mattjoyce/tend/internal/vcs"
	"github.com/mattjoyce/tend/internal/workspace"
)

// RepoState is the observed state of one declared repo at probe time.
// It is rebuilt every run and never cached.
type RepoState struct {
	// Present reports that the target path exists on disk.
	Present bool
	// IsRepo reports that the path is a recognized git working copy.
	IsRepo bool
	// Ref is the current branch, or "HEAD" when detached.
	Ref string
	// Commit is the current HEAD commit SHA.
	Commit string
	// RemoteURL is the configured origin URL.
	RemoteURL string
	// Dirty reports uncommitted local changes.
	Dirty bool
	// ProbedAt is when this snapshot was taken.
	ProbedAt time.Time
	// ProbeErr records an inspection failure for this repo. A failed
	// probe never aborts the run; the planner turns it into a Conflict
	// needing operator attention.
	ProbeErr string
}

// Prober builds RepoState snapshots through the VCS adapter.
type Prober struct {
	vcs    vcs.Adapter
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Prober backed by the given adapter.
func New(adapter vcs.Adapter) *Prober {
	return &Prober{
		vcs:    adapter,
		logger: log.WithComponent("probe"),
		now:    time.Now,
	}
}

// Probe inspects a single repo. The returned state always carries a
// ProbedAt timestamp; inspection failures land in ProbeErr.
func (p *Prober) Probe(ctx context.Context, root string, spec workspace.RepoSpec) RepoState {
	state := RepoState{ProbedAt: p.now()}
	target := filepath.Join(root, spec.Path)

	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return state
		}
		state.ProbeErr = err.Error()
		return state
	}
	state.Present = true

	st, err := p.vcs.Status(ctx, target)
	if err != nil {
		p.logger.Warn("probe failed", "repo", spec.Name, "path", target, "error", err)
		state.ProbeErr = err.Error()
		return state
	}

	state.IsRepo = st.IsRepo
	state.Ref = st.Ref
	state.Commit = st.Commit
	state.RemoteURL = st.RemoteURL
	state.Dirty = st.Dirty
	return state
}

// ProbeAll inspects every spec with bounded parallelism and returns a
// snapshot per repo name. Probing is read-only, so workers need no
// coordination beyond the result slice slot each one owns.
func (p *Prober) ProbeAll(ctx context.Context, root string, specs []workspace.RepoSpec, limit int) (map[string]RepoState, error) {
	if limit < 1 {
		limit = 1
	}

	states := make([]RepoState, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, spec := range specs {
		g.Go(func() error {
			states[i] = p.Probe(gctx, root, spec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byName := make(map[string]RepoState, len(specs))
	for i, spec := range specs {
		byName[spec.Name] = states[i]
	}
	return byName, nil
}

// FindUnknown lists directories under root that no spec claims. These
// show up in status output so operators notice repos that fell out of
// the declaration.
func FindUnknown(root string, specs []workspace.RepoSpec) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	claimed := make(map[string]bool, len(specs))
	for _, spec := range specs {
		// Only the first path element matters for top-level scanning.
		first := spec.Path
		if i := strings.IndexRune(first, filepath.Separator); i > 0 {
			first = first[:i]
		}
		claimed[first] = true
	}

	var unknown []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || claimed[name] {
			continue
		}
		unknown = append(unknown, name)
	}
	sort.Strings(unknown)
	return unknown
}
