package flake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/tend/internal/log"
)

// errUnchanged signals that a step left flake.lock untouched.
var errUnchanged = fmt.Errorf("flake.lock unchanged")

// Runner executes an update chain inside a workspace root.
type Runner struct {
	root   string
	out    io.Writer
	logger *slog.Logger

	// runCmd is swappable for tests; the default shells out.
	runCmd func(ctx context.Context, dir, name string, args ...string) (string, error)
}

// NewRunner creates a Runner for the workspace rooted at root, writing
// progress to out.
func NewRunner(root string, out io.Writer) *Runner {
	return &Runner{
		root:   root,
		out:    out,
		logger: log.WithComponent("flake"),
		runCmd: runCommand,
	}
}

func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s %s: %s", name, strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Execute runs every step: nix flake update, commit, push. dryRun
// prints the chain without touching anything. A failing step aborts the
// chain, because later steps depend on the pushed result.
func (r *Runner) Execute(ctx context.Context, chain []Step, dryRun, quiet bool) error {
	total := len(chain)
	for i, step := range chain {
		repoPath := filepath.Join(r.root, step.Repo)
		if _, err := os.Stat(repoPath); err != nil {
			return fmt.Errorf("repo directory does not exist: %s", repoPath)
		}

		if !quiet {
			fmt.Fprintf(r.out, "[%d/%d] %s: updating inputs %s\n", i+1, total, step.Repo, strings.Join(step.Inputs, " "))
		}
		if dryRun {
			if !quiet {
				fmt.Fprintf(r.out, "  dry-run, skipping\n")
			}
			continue
		}

		err := r.executeStep(ctx, repoPath, step)
		if err == errUnchanged {
			if !quiet {
				fmt.Fprintf(r.out, "  %s: flake.lock unchanged, nothing to push\n", step.Repo)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Repo, err)
		}
		if !quiet {
			fmt.Fprintf(r.out, "  %s: committed and pushed\n", step.Repo)
		}
	}
	return nil
}

func (r *Runner) executeStep(ctx context.Context, repoPath string, step Step) error {
	// Refuse to commit on top of local work.
	porcelain, err := r.runCmd(ctx, repoPath, "git", "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("check working tree: %w", err)
	}
	if porcelain != "" {
		return fmt.Errorf("working tree is dirty")
	}

	args := append([]string{"flake", "update"}, step.Inputs...)
	if _, err := r.runCmd(ctx, repoPath, "nix", args...); err != nil {
		return fmt.Errorf("nix flake update: %w", err)
	}

	if _, err := r.runCmd(ctx, repoPath, "git", "add", "flake.lock"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	// `git diff --cached --quiet` exits non-zero when changes are
	// staged, so success here means the lock did not change.
	if _, err := r.runCmd(ctx, repoPath, "git", "diff", "--cached", "--quiet"); err == nil {
		return errUnchanged
	}

	msg := fmt.Sprintf("chore: update %s", strings.Join(step.Inputs, " "))
	if _, err := r.runCmd(ctx, repoPath, "git", "commit", "-m", msg); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	if _, err := r.runCmd(ctx, repoPath, "git", "push"); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}
