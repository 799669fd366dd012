// Package fileutil provides recording file utilities: sidecar metadata and
// output renaming.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/recordcore/internal/recording"
)

// RecordingMetadata is the sidecar metadata written alongside each recording.
type RecordingMetadata struct {
	Version       string    `json:"version"`
	SessionID     string    `json:"session_id"`
	Preset        string    `json:"preset,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	Duration      string    `json:"duration"`
	DurationMs    int64     `json:"duration_ms"`
	EngineVersion string    `json:"engine_version,omitempty"`
	OutputFile    string    `json:"output_file"`
	Video         VideoMeta `json:"video"`
	AudioEnabled  bool      `json:"audio_enabled"`
}

// VideoMeta records the encoder parameters the session was started with.
type VideoMeta struct {
	Codec     string `json:"codec"`
	Width     int    `json:"width,omitempty"` // 0 = engine default
	Height    int    `json:"height,omitempty"`
	FrameRate int    `json:"frame_rate"`
	Bitrate   int    `json:"bitrate"`
}

// NewMetadata builds the sidecar for a completed session. The start time is
// derived from the persisted duration.
func NewMetadata(status recording.RecordingStatus, cfg recording.RecordingConfig, stoppedAt time.Time) *RecordingMetadata {
	d := time.Duration(status.LastDurationSeconds) * time.Second
	return &RecordingMetadata{
		SessionID:  status.SessionID,
		StartedAt:  stoppedAt.Add(-d),
		StoppedAt:  stoppedAt,
		Duration:   d.String(),
		DurationMs: d.Milliseconds(),
		OutputFile: status.OutputFilePath,
		Video: VideoMeta{
			Codec:     cfg.VideoFormat,
			Width:     cfg.VideoWidth,
			Height:    cfg.VideoHeight,
			FrameRate: cfg.VideoFrameRate,
			Bitrate:   cfg.VideoBitrate,
		},
		AudioEnabled: cfg.AudioEnabled,
	}
}

// WriteMetadata writes a <basepath>.meta.json sidecar file alongside the
// recording.
func WriteMetadata(recordingPath string, meta *RecordingMetadata) error {
	if err := WriteJSONAtomic(MetadataPath(recordingPath), meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the sidecar of recordingPath.
func ReadMetadata(recordingPath string) (*RecordingMetadata, error) {
	data, err := os.ReadFile(MetadataPath(recordingPath))
	if err != nil {
		return nil, err
	}
	var meta RecordingMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// MetadataPath returns <basepath>.meta.json for a given recording file path.
func MetadataPath(recordingPath string) string {
	ext := filepath.Ext(recordingPath)
	base := recordingPath[:len(recordingPath)-len(ext)]
	return base + ".meta.json"
}

// WriteJSONAtomic writes v as indented JSON to path through a temp file in
// the same directory and a rename, so readers never see a partial file.
func WriteJSONAtomic(path string, v interface{}) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	success = true

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
