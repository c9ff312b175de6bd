// Package plan computes the corrective operation for each repo by
// diffing its desired spec against its observed state. Planning is a
// pure function: identical inputs always produce the identical Action,
// and nothing here touches the filesystem or the network.
package plan

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/tend/internal/probe"
	"github.com/mattjoyce/tend/internal/workspace"
)

// Kind enumerates the repository-level operations.
type Kind string

const (
	KindClone         Kind = "clone"
	KindFetchCheckout Kind = "fetch_checkout"
	KindSkip          Kind = "skip"
	KindConflict      Kind = "conflict"
)

// Action is the planned operation for one repo this run.
type Action struct {
	Kind   Kind
	Spec   workspace.RepoSpec
	State  probe.RepoState
	Reason string // set for Skip and Conflict
}

// Plan diffs one spec against its observed state.
//
// The one tie-break that matters: uncommitted local changes escalate an
// otherwise-automatic update to Conflict. tend never discards local work.
func Plan(spec workspace.RepoSpec, state probe.RepoState) Action {
	action := Action{Spec: spec, State: state}

	switch {
	case state.ProbeErr != "":
		action.Kind = KindConflict
		action.Reason = fmt.Sprintf("probe failed: %s", state.ProbeErr)

	case !state.Present:
		action.Kind = KindClone

	case !state.IsRepo:
		action.Kind = KindConflict
		action.Reason = "path exists but is not a git working copy"

	case !remoteMatches(spec.URL, state.RemoteURL):
		action.Kind = KindConflict
		action.Reason = fmt.Sprintf("remote is %q, want %q", state.RemoteURL, spec.URL)

	case refMatches(spec, state):
		// Dirtiness alone is not divergence.
		action.Kind = KindSkip
		if state.Dirty {
			action.Reason = "at desired ref (working tree dirty)"
		} else {
			action.Reason = "up to date"
		}

	case state.Dirty:
		action.Kind = KindConflict
		action.Reason = fmt.Sprintf("ref is %q, want %q, and working tree has uncommitted changes", state.Ref, spec.Ref)

	default:
		action.Kind = KindFetchCheckout
	}

	return action
}

// All plans every spec in order. Every spec yields exactly one Action.
func All(specs []workspace.RepoSpec, states map[string]probe.RepoState) []Action {
	actions := make([]Action, len(specs))
	for i, spec := range specs {
		actions[i] = Plan(spec, states[spec.Name])
	}
	return actions
}

// refMatches reports whether the working copy already satisfies the
// desired ref. An empty desired ref means "any ref": the repo only has
// to exist, matching clone-only declarations.
func refMatches(spec workspace.RepoSpec, state probe.RepoState) bool {
	if spec.Ref == "" {
		return true
	}
	if state.Ref == spec.Ref {
		return true
	}
	// Commit pins: a desired ref may be a full or abbreviated SHA.
	if len(spec.Ref) >= 7 && strings.HasPrefix(state.Commit, spec.Ref) {
		return true
	}
	return false
}

// remoteMatches compares remote URLs loosely: ssh and https forms of
// the same repository are the same remote.
func remoteMatches(want, got string) bool {
	if want == "" || got == "" {
		// A spec with no URL (or a repo with no origin) cannot be
		// compared; treat as matching so the ref check decides.
		return true
	}
	return normalizeRemote(want) == normalizeRemote(got)
}

func normalizeRemote(url string) string {
	u := strings.TrimSpace(url)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "ssh://")
	u = strings.TrimPrefix(u, "git://")
	if i := strings.Index(u, "@"); i >= 0 {
		u = u[i+1:]
	}
	u = strings.Replace(u, ":", "/", 1)
	return strings.ToLower(u)
}
