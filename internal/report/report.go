// Package report reduces per-repository outcomes into the run summary
// surfaced to the caller. Summarization is a commutative reduction:
// outcome order never changes the verdict.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tend/internal/engine"
	"github.com/mattjoyce/tend/internal/ledger"
)

// Status is the overall verdict of a run.
type Status string

const (
	AllSucceeded   Status = "all_succeeded"
	PartialFailure Status = "partial_failure"
	TotalFailure   Status = "total_failure"
)

// Report aggregates one workspace run.
type Report struct {
	Workspace string
	RunID     string
	Outcomes  []engine.Outcome
	Status    Status
}

// Summarize reduces outcomes to a Report. AllSucceeded iff every
// outcome is Succeeded or Skipped. A Conflict is a skip with a
// warning: it blocks AllSucceeded but not the rest of the run, so
// TotalFailure is reserved for runs where every outcome failed.
func Summarize(workspaceName, runID string, outcomes []engine.Outcome) Report {
	clean, failed := 0, 0
	for _, o := range outcomes {
		switch o.Status {
		case ledger.StatusSucceeded, ledger.StatusSkipped:
			clean++
		case ledger.StatusFailed:
			failed++
		}
	}

	status := AllSucceeded
	switch {
	case clean == len(outcomes):
		status = AllSucceeded
	case failed == len(outcomes):
		status = TotalFailure
	default:
		status = PartialFailure
	}

	return Report{
		Workspace: workspaceName,
		RunID:     runID,
		Outcomes:  outcomes,
		Status:    status,
	}
}

// ExitCode maps the verdict to the process exit signal.
func (r Report) ExitCode() int {
	switch r.Status {
	case AllSucceeded:
		return 0
	case PartialFailure:
		return 1
	default:
		return 2
	}
}

// Counts tallies outcomes by status.
func (r Report) Counts() (succeeded, skipped, failed, conflicts int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case ledger.StatusSucceeded:
			succeeded++
		case ledger.StatusSkipped:
			skipped++
		case ledger.StatusConflict:
			conflicts++
		default:
			failed++
		}
	}
	return
}

var (
	styleTitle    = lipgloss.NewStyle().Bold(true)
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleSkip     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleFail     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleConflict = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Render writes the human-readable report. quiet suppresses per-repo
// lines for repos that needed no work.
func Render(w io.Writer, r Report, quiet bool) {
	fmt.Fprintln(w, styleTitle.Render(fmt.Sprintf("workspace: %s", r.Workspace)))

	for _, o := range r.Outcomes {
		var line string
		switch o.Status {
		case ledger.StatusSucceeded:
			line = fmt.Sprintf("  [%s] %-40s %s", styleOK.Render("ok"), o.Repo, o.Action)
		case ledger.StatusSkipped:
			if quiet {
				continue
			}
			line = fmt.Sprintf("  [%s] %-40s %s", styleSkip.Render("--"), o.Repo, o.Reason)
		case ledger.StatusConflict:
			line = fmt.Sprintf("  [%s] %-40s %s", styleConflict.Render("!!"), o.Repo, o.Reason)
		default:
			line = fmt.Sprintf("  [%s] %-40s %s", styleFail.Render("xx"), o.Repo, o.Reason)
		}
		fmt.Fprintln(w, line)
	}

	succeeded, skipped, failed, conflicts := r.Counts()
	fmt.Fprintf(w, "  %s applied, %s skipped, %s failed, %s conflicts\n",
		styleOK.Render(fmt.Sprintf("%d", succeeded)),
		styleSkip.Render(fmt.Sprintf("%d", skipped)),
		styleFail.Render(fmt.Sprintf("%d", failed)),
		styleConflict.Render(fmt.Sprintf("%d", conflicts)),
	)
}
