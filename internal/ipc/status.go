package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/recordcore/internal/fileutil"
	"github.com/tiroq/recordcore/internal/recording"
)

// StatusFile is the name of the snapshot inside the state directory.
const StatusFile = "status.json"

// StatusSnapshot represents the daemon state at a point in time
type StatusSnapshot struct {
	Recording       recording.RecordingStatus `json:"recording"`
	Preset          string                    `json:"preset,omitempty"` // preset of the current or last session
	EngineConnected bool                      `json:"engine_connected"`
	EngineURL       string                    `json:"engine_url"`
	EngineVersion   string                    `json:"engine_version,omitempty"`
	LastAction      string                    `json:"last_action"`
	LastError       string                    `json:"last_error"`
	LastOutput      string                    `json:"last_output,omitempty"` // after rename, if enabled
	PID             int                       `json:"pid"`
	Timestamp       time.Time                 `json:"timestamp"`
}

// StatusPath returns the snapshot path inside stateDir.
func StatusPath(stateDir string) string {
	return filepath.Join(stateDir, StatusFile)
}

// WriteStatus persists status to stateDir using an atomic write.
func WriteStatus(stateDir string, status *StatusSnapshot) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(StatusPath(stateDir), status)
}

// ReadStatus loads the snapshot from stateDir.
func ReadStatus(stateDir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath(stateDir))
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stale reports whether the snapshot is older than maxAge at now, which
// usually means the daemon is gone.
func (s *StatusSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.Timestamp) > maxAge
}
