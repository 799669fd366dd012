package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/recordcore/internal/fileutil"
	"github.com/tiroq/recordcore/internal/recording"
)

// CapabilitiesFile holds what the engine reported the last time the daemon
// acquired it. recordctl reads it instead of dialing the engine, which would
// take the engine session away from the daemon.
const CapabilitiesFile = "capabilities.json"

// Capabilities is the engine's capability set as resolved by the daemon.
type Capabilities struct {
	EngineVersion string                       `json:"engine_version,omitempty"`
	Codecs        []recording.CodecDescriptor  `json:"codecs"`
	Resolutions   []recording.ResolutionPreset `json:"resolutions"`
	FrameRates    []recording.FrameRatePreset  `json:"frame_rates"`
	Timestamp     time.Time                    `json:"timestamp"`
}

// CapabilitiesPath returns the capabilities path inside stateDir.
func CapabilitiesPath(stateDir string) string {
	return filepath.Join(stateDir, CapabilitiesFile)
}

// WriteCapabilities persists caps to stateDir using an atomic write.
func WriteCapabilities(stateDir string, caps *Capabilities) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(CapabilitiesPath(stateDir), caps)
}

// ReadCapabilities loads the capabilities from stateDir.
func ReadCapabilities(stateDir string) (*Capabilities, error) {
	data, err := os.ReadFile(CapabilitiesPath(stateDir))
	if err != nil {
		return nil, err
	}
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}
