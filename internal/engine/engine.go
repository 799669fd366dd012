// Package engine describes the external native recording engine as the core
// sees it: fire-and-forget commands, synchronous queries and push events.
package engine

import (
	"context"

	"github.com/tiroq/recordcore/internal/recording"
)

// StartCommand carries the parameters of one recording to the engine.
type StartCommand struct {
	Bitrate         int    `json:"bitrate"`
	FrameRate       int    `json:"frameRate"`
	Codec           string `json:"codec"` // mime type
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	OutputDirectory string `json:"outputDirectory,omitempty"`
	MaxDurationMs   int64  `json:"maxDurationMs"`
	AudioEnabled    bool   `json:"audioEnabled"`
	WriteWhileRec   bool   `json:"writeToFileWhileRecording"`
}

// NewStartCommand maps a RecordingConfig onto the engine's start parameters.
func NewStartCommand(cfg recording.RecordingConfig) StartCommand {
	return StartCommand{
		Bitrate:         cfg.VideoBitrate,
		FrameRate:       cfg.VideoFrameRate,
		Codec:           cfg.VideoFormat,
		Width:           cfg.VideoWidth,
		Height:          cfg.VideoHeight,
		OutputDirectory: cfg.OutputDirectory,
		MaxDurationMs:   cfg.MaxRecordingDurationMs,
		AudioEnabled:    cfg.AudioEnabled,
		WriteWhileRec:   cfg.WriteToFileWhileRecording,
	}
}

// Codec is a codec as reported by the engine.
type Codec struct {
	MimeType    string `json:"mimeType"`
	DisplayName string `json:"displayName"`
}

// Resolution is a capture size as reported by the engine.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Listener receives push events. Implementations must tolerate calls from
// any goroutine, including the engine's transport reader.
type Listener interface {
	OnStateChanged(state string)
	OnComplete(path string)
	OnError(message string)
}

// Engine is a handle to the native recording engine.
//
// Command methods return once the command has been issued; a non-nil error
// means the issue itself failed. Whether the engine carried the command out
// is reported later through the Listener.
type Engine interface {
	StartRecording(ctx context.Context, cmd StartCommand) error
	StopRecording(ctx context.Context) error
	StopService(ctx context.Context) error

	GetRecordingState(ctx context.Context) (string, error)
	GetOutputFilePath(ctx context.Context) (string, error)
	GetAvailableCodecs(ctx context.Context) ([]Codec, error)
	GetOptimalResolutions(ctx context.Context) ([]Resolution, error)
	GetRecommendedBitrate(ctx context.Context, width, height, frameRate int) (int, error)

	// SetListener replaces the push listener; nil detaches it.
	SetListener(l Listener)
	Close() error
}

// FrameRateQuerier is implemented by engines that can report supported
// capture frame rates.
type FrameRateQuerier interface {
	GetSupportedFrameRates(ctx context.Context) ([]int, error)
}

// Factory creates a fresh engine handle.
type Factory func(ctx context.Context) (Engine, error)
