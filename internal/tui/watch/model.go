package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tend/internal/api"
)

const pollInterval = 2 * time.Second

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	snap      api.Snapshot
	connected bool
	lastPoll  time.Time
	selected  int

	spinner spinner.Model
	theme   Theme

	lastError string
}

// New creates a new watch TUI model pointed at the daemon API.
func New(apiURL string) *Model {
	theme := NewDefaultTheme()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Highlight

	return &Model{
		apiURL:  apiURL,
		spinner: sp,
		theme:   theme,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg { return fetchStatus(m.apiURL) },
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.snap.Workspaces)-1 {
				m.selected++
			}
		case "r":
			return m, func() tea.Msg { return fetchStatus(m.apiURL) }
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusMsg:
		m.snap = api.Snapshot(msg)
		m.connected = true
		m.lastPoll = time.Now()
		m.lastError = ""
		if m.selected >= len(m.snap.Workspaces) {
			m.selected = 0
		}
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchStatus(m.apiURL)
		})

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to tend daemon..."
	}

	header := m.renderHeader()
	workspaces := m.renderWorkspaces()
	detail := m.renderRepoDetail()

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(" ! " + m.lastError)
	}

	help := m.theme.Dim.Render(" [q] Quit  [up/down] Select Workspace  [r] Refresh")

	parts := []string{header, workspaces}
	if detail != "" {
		parts = append(parts, detail)
	}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	var conn string
	if m.connected {
		conn = m.theme.StatusOK.Render("connected")
	} else {
		conn = m.theme.StatusFailed.Render("disconnected")
	}

	line := fmt.Sprintf("%s tend watch  %s  cycles: %d  interval: %s",
		m.spinner.View(), conn, m.snap.CycleCount, m.snap.Interval)

	if !m.snap.NextCycle.IsZero() {
		remaining := time.Until(m.snap.NextCycle).Round(time.Second)
		if remaining > 0 {
			line += m.theme.Dim.Render(fmt.Sprintf("  next cycle in %s", remaining))
		}
	}

	return m.theme.Title.Render(line)
}

func (m Model) renderWorkspaces() string {
	if len(m.snap.Workspaces) == 0 {
		return m.theme.Dim.Render(" no workspaces reported yet")
	}

	var b strings.Builder
	b.WriteString(m.theme.Header.Render(" Workspaces"))
	b.WriteString("\n")

	for i, ws := range m.snap.Workspaces {
		cursor := "  "
		if i == m.selected {
			cursor = m.theme.Highlight.Render("> ")
		}

		counts := fmt.Sprintf("%d ok / %d skip / %d conflict / %d fail",
			ws.Succeeded, ws.Skipped, ws.Conflicts, ws.Failed)

		line := fmt.Sprintf("%s%-20s %-16s %s",
			cursor, ws.Name, m.styleRunStatus(ws.Status), counts)
		b.WriteString(line)
		b.WriteString("\n")
	}

	return m.theme.Border.Width(m.width - 6).Render(b.String())
}

func (m Model) renderRepoDetail() string {
	if m.selected >= len(m.snap.Workspaces) {
		return ""
	}
	ws := m.snap.Workspaces[m.selected]
	if len(ws.Repos) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.Header.Render(" " + ws.Name))
	b.WriteString("\n")

	// Bound the detail pane so tall workspaces do not push the help
	// line off screen.
	limit := m.height - len(m.snap.Workspaces) - 10
	if limit < 3 {
		limit = 3
	}

	for i, repo := range ws.Repos {
		if i >= limit {
			b.WriteString(m.theme.Dim.Render(fmt.Sprintf("  ... %d more", len(ws.Repos)-i)))
			b.WriteString("\n")
			break
		}
		line := fmt.Sprintf("  %-28s %-16s %s",
			repo.Name, m.styleRepoStatus(repo.Status), m.theme.Dim.Render(repo.Reason))
		b.WriteString(line)
		b.WriteString("\n")
	}

	return m.theme.Border.Width(m.width - 6).Render(b.String())
}

func (m Model) styleRunStatus(status string) string {
	switch status {
	case "all_succeeded":
		return m.theme.StatusOK.Render(status)
	case "partial_failure":
		return m.theme.StatusConflict.Render(status)
	case "total_failure", "error", "invalid", "discovery_failed":
		return m.theme.StatusFailed.Render(status)
	case "":
		return m.theme.Dim.Render("pending")
	default:
		return status
	}
}

func (m Model) styleRepoStatus(status string) string {
	switch status {
	case "succeeded":
		return m.theme.StatusOK.Render(status)
	case "skipped":
		return m.theme.StatusSkipped.Render(status)
	case "conflict":
		return m.theme.StatusConflict.Render(status)
	case "failed":
		return m.theme.StatusFailed.Render(status)
	default:
		return status
	}
}
