package api

import "time"

// Snapshot is the daemon state served by the API.
type Snapshot struct {
	StartedAt  time.Time         `json:"started_at"`
	Interval   string            `json:"interval"`
	CycleCount int               `json:"cycle_count"`
	LastCycle  time.Time         `json:"last_cycle,omitempty"`
	NextCycle  time.Time         `json:"next_cycle,omitempty"`
	Workspaces []WorkspaceStatus `json:"workspaces"`
}

// WorkspaceStatus summarizes the most recent run for one workspace.
type WorkspaceStatus struct {
	Name       string       `json:"name"`
	Root       string       `json:"root"`
	RunID      string       `json:"run_id,omitempty"`
	Status     string       `json:"status,omitempty"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Conflicts  int          `json:"conflicts"`
	Skipped    int          `json:"skipped"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Repos      []RepoStatus `json:"repos,omitempty"`
}

// RepoStatus is the per-repository outcome of the last run.
type RepoStatus struct {
	Name     string `json:"name"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CycleCount    int    `json:"cycle_count"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
