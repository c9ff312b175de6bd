package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CycleCount:    snap.CycleCount,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /status. Returns the full daemon snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Snapshot())
}

// handleWorkspaces handles GET /workspaces. Summary only, no per-repo
// detail.
func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()

	summaries := make([]WorkspaceStatus, 0, len(snap.Workspaces))
	for _, ws := range snap.Workspaces {
		ws.Repos = nil
		summaries = append(summaries, ws)
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

// handleWorkspace handles GET /workspaces/{name} with per-repo detail.
func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	snap := s.source.Snapshot()
	for _, ws := range snap.Workspaces {
		if ws.Name == name {
			s.writeJSON(w, http.StatusOK, ws)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "workspace not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
