// Package recording holds the value types shared by the session controller,
// the reconciler and the capability resolver.
package recording

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a recording session
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateRecording
	StateStopping
	StateError
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StatePreparing: "preparing",
	StateRecording: "recording",
	StateStopping:  "stopping",
	StateError:     "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Active reports whether a session owns the engine in this state.
func (s State) Active() bool {
	return s == StatePreparing || s == StateRecording || s == StateStopping
}

// MarshalText lets State appear by name in status.json and diag payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	parsed, ok := ParseState(string(text))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, string(text))
	}
	*s = parsed
	return nil
}

// ParseState maps an engine state string onto a State. Matching ignores case
// and surrounding whitespace; "starting" is accepted as an alias of
// "preparing".
func ParseState(raw string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return StateIdle, true
	case "preparing", "starting":
		return StatePreparing, true
	case "recording":
		return StateRecording, true
	case "stopping":
		return StateStopping, true
	case "error":
		return StateError, true
	default:
		return StateIdle, false
	}
}

// RecordingConfig is the full parameter set for one recording. It is passed
// by value so a session's copy cannot change after StartRecording.
type RecordingConfig struct {
	VideoBitrate   int    `json:"video_bitrate"`    // bits per second
	VideoFrameRate int    `json:"video_frame_rate"` // frames per second
	VideoFormat    string `json:"video_format"`     // codec mime type
	VideoWidth     int    `json:"video_width"`      // 0 = engine default
	VideoHeight    int    `json:"video_height"`     // 0 = engine default
	AudioEnabled   bool   `json:"audio_enabled"`

	// Empty means the engine picks the directory.
	OutputDirectory           string `json:"output_directory"`
	MaxRecordingDurationMs    int64  `json:"max_recording_duration_ms"` // -1 = unlimited
	WriteToFileWhileRecording bool   `json:"write_to_file_while_recording"`
}

// UnlimitedDuration is the MaxRecordingDurationMs value for no limit.
const UnlimitedDuration int64 = -1

// Validate checks the parameters the engine cannot default.
func (c RecordingConfig) Validate() error {
	if c.VideoBitrate <= 0 {
		return fmt.Errorf("%w: video bitrate must be positive, got %d", ErrInvalidConfig, c.VideoBitrate)
	}
	if c.VideoFrameRate <= 0 {
		return fmt.Errorf("%w: video frame rate must be positive, got %d", ErrInvalidConfig, c.VideoFrameRate)
	}
	if c.VideoWidth < 0 || c.VideoHeight < 0 {
		return fmt.Errorf("%w: video dimensions must not be negative, got %dx%d", ErrInvalidConfig, c.VideoWidth, c.VideoHeight)
	}
	if c.MaxRecordingDurationMs < UnlimitedDuration {
		return fmt.Errorf("%w: max recording duration must be -1 or greater, got %d", ErrInvalidConfig, c.MaxRecordingDurationMs)
	}
	return nil
}

// RecordingStatus is derived from the session on every read.
type RecordingStatus struct {
	State                    State  `json:"state"`
	RecordingDurationSeconds int64  `json:"recording_duration_seconds"` // 0 unless recording or stopping
	LastDurationSeconds      int64  `json:"last_duration_seconds"`      // persisted when the last session ended
	OutputFilePath           string `json:"output_file_path,omitempty"`
	ErrorMessage             string `json:"error_message,omitempty"` // only in StateError
	SessionID                string `json:"session_id,omitempty"`
}

// HasOutput reports whether a completion has been reconciled for the session.
func (s RecordingStatus) HasOutput() bool {
	return s.OutputFilePath != ""
}
