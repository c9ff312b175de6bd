// Package ledger persists per-repository execution records so an
// interrupted run can resume instead of repeating completed work. The
// ledger is the only state tend keeps between invocations.
package ledger

import (
	"context"
	"time"
)

// Status is the terminal result recorded for one repo.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusConflict  Status = "conflict"
	StatusSkipped   Status = "skipped"
)

// Entry is one repo's record within a run. Entries are written only
// when an outcome finalizes, never mid-flight, so a crash can at worst
// lose an in-progress operation and never record a half-truth.
type Entry struct {
	Workspace   string
	Repo        string
	Fingerprint string // BLAKE3 of the RepoSpec that produced this entry
	Action      string
	Status      Status
	Reason      string
	RunID       string
	Attempts    int
	CompletedAt time.Time
}

// Store is the persistence boundary. It is injected into the engine so
// tests run against the in-memory implementation. Each Put is atomic
// per (workspace, repo) key; concurrent Puts for different repos never
// interleave.
type Store interface {
	// Get returns the entry for a repo, or (nil, nil) when absent.
	Get(ctx context.Context, workspace, repo string) (*Entry, error)
	// Put atomically upserts one entry.
	Put(ctx context.Context, e Entry) error
	// List returns all current entries for a workspace.
	List(ctx context.Context, workspace string) ([]Entry, error)
	// Archive moves a workspace's entries into the historical log.
	// Called after a fully successful run so the next run starts clean.
	Archive(ctx context.Context, workspace string) error
	// Clear drops a workspace's entries without archiving.
	Clear(ctx context.Context, workspace string) error
}
