// Package vcs defines the capability boundary between the
// reconciliation engine and the underlying version-control tooling.
// The engine depends only on the Adapter interface, never on git
// directly, so it can be exercised against a mock in tests.
package vcs

import "context"

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks github.com/mattjoyce/tend/internal/vcs Adapter

// CloneOptions carries the per-repo knobs that affect a clone.
type CloneOptions struct {
	Shallow    bool
	Submodules bool
}

// Status is the observed state of a working copy on disk.
type Status struct {
	// IsRepo reports whether the path is a recognized git working copy.
	IsRepo bool
	// Ref is the current branch name, or "HEAD" when detached.
	Ref string
	// Commit is the current HEAD commit SHA.
	Commit string
	// RemoteURL is the configured origin URL, empty if none.
	RemoteURL string
	// Dirty reports uncommitted changes in the working tree.
	Dirty bool
}

// Adapter is the four-operation capability set the engine needs.
// Implementations classify failures via the Error type in this package
// so the engine can decide what is retryable.
type Adapter interface {
	Clone(ctx context.Context, url, ref, path string, opts CloneOptions) error
	Fetch(ctx context.Context, path string) error
	Checkout(ctx context.Context, path, ref string) error
	Status(ctx context.Context, path string) (Status, error)
}
