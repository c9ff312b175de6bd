package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tend/internal/api"
)

// --- Message types ---

type statusMsg api.Snapshot

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchStatus polls the daemon's /status endpoint once.
func fetchStatus(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(apiURL + "/status")
	if err != nil {
		return errMsg(fmt.Errorf("daemon unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("daemon returned %s", resp.Status))
	}

	var snap api.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return errMsg(fmt.Errorf("decode status: %w", err))
	}
	return statusMsg(snap)
}
