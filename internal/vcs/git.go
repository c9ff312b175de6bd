package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattjoyce/tend/internal/log"
)

// Git runs the system git binary. It is the only Adapter implementation
// tend ships; everything else in the engine treats it as opaque.
type Git struct {
	// runner is swappable for tests. The default shells out to git.
	runner func(ctx context.Context, dir string, args ...string) (string, string, error)
}

var _ Adapter = (*Git)(nil)

// NewGit returns a git-backed Adapter.
func NewGit() *Git {
	return &Git{runner: runGit}
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), stderr.String(), err
}

// run executes git and wraps failures as classified adapter errors.
func (g *Git) run(ctx context.Context, op, dir string, args ...string) (string, error) {
	out, stderr, err := g.runner(ctx, dir, args...)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return "", &Error{Op: op, Class: ClassTimeout, Err: fmt.Errorf("git %s: %w", args[0], ctxErr)}
	}
	class := classifyGitFailure(stderr)
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	log.WithComponent("vcs").Debug("git command failed", "args", args, "class", string(class), "stderr", msg)
	return "", &Error{Op: op, Class: class, Err: fmt.Errorf("git %s: %s", args[0], msg)}
}

// Clone clones url into path and, when ref is set, checks it out.
// Clone and checkout are separate steps because --branch rejects commit
// SHAs, and a desired ref may be either. A commit pin also disables
// shallow cloning: a depth-1 clone cannot reach an arbitrary commit.
func (g *Git) Clone(ctx context.Context, url, ref, path string, opts CloneOptions) error {
	shallow := opts.Shallow && !looksLikeCommitPin(ref)

	args := []string{"clone"}
	if shallow {
		args = append(args, "--depth", "1")
		if ref != "" {
			// A shallow clone only carries the cloned branch, so ask
			// for the desired one up front.
			args = append(args, "--branch", ref)
		}
	}
	if opts.Submodules {
		args = append(args, "--recurse-submodules")
	}
	args = append(args, url, path)

	if _, err := g.run(ctx, "clone", "", args...); err != nil {
		return err
	}
	if ref == "" || shallow {
		return nil
	}
	return g.Checkout(ctx, path, ref)
}

// looksLikeCommitPin mirrors the planner's ref matching: seven or more
// hex characters is an abbreviated commit SHA, not a branch name.
func looksLikeCommitPin(ref string) bool {
	if len(ref) < 7 {
		return false
	}
	for _, c := range ref {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// Fetch updates all remote-tracking refs for the working copy at path.
func (g *Git) Fetch(ctx context.Context, path string) error {
	_, err := g.run(ctx, "fetch", path, "fetch", "--prune", "--tags", "origin")
	return err
}

// Checkout switches the working copy at path to ref. It never forces:
// git itself refuses checkouts that would clobber local changes, and
// that refusal surfaces as a conflict-class error.
func (g *Git) Checkout(ctx context.Context, path, ref string) error {
	_, err := g.run(ctx, "checkout", path, "checkout", ref)
	return err
}

// Status inspects the working copy at path without mutating it.
func (g *Git) Status(ctx context.Context, path string) (Status, error) {
	if _, err := g.run(ctx, "status", path, "rev-parse", "--git-dir"); err != nil {
		// Not a git working copy at all is a valid observation, not a
		// failure; other classes propagate.
		if ClassOf(err) == ClassNotFound || ClassOf(err) == ClassUnknown {
			return Status{IsRepo: false}, nil
		}
		return Status{}, err
	}

	st := Status{IsRepo: true}

	ref, err := g.run(ctx, "status", path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Status{}, err
	}
	st.Ref = ref

	commit, err := g.run(ctx, "status", path, "rev-parse", "HEAD")
	if err != nil {
		// An empty repository has no HEAD yet; report it as-is.
		if ClassOf(err) != ClassNotFound && ClassOf(err) != ClassUnknown {
			return Status{}, err
		}
	} else {
		st.Commit = commit
	}

	// A missing origin remote is an observation, not an error.
	if url, err := g.run(ctx, "status", path, "remote", "get-url", "origin"); err == nil {
		st.RemoteURL = url
	}

	porcelain, err := g.run(ctx, "status", path, "status", "--porcelain")
	if err != nil {
		return Status{}, err
	}
	st.Dirty = porcelain != ""

	return st, nil
}
