package capability

import (
	"sort"
	"strings"

	"github.com/tiroq/recordcore/internal/recording"
)

// Preset names accepted by PresetByName.
const (
	PresetDefault     = "default"
	PresetHighQuality = "high_quality"
	PresetPerformance = "performance"
	PresetVR4K        = "vr_4k"
	PresetVRQHD       = "vr_qhd"
)

func preset(bitrate, fps int, codec recording.CodecID, width, height int) recording.RecordingConfig {
	return recording.RecordingConfig{
		VideoBitrate:              bitrate,
		VideoFrameRate:            fps,
		VideoFormat:               recording.MustCodec(codec).MimeType,
		VideoWidth:                width,
		VideoHeight:               height,
		AudioEnabled:              false,
		MaxRecordingDurationMs:    recording.UnlimitedDuration,
		WriteToFileWhileRecording: true,
	}
}

// Default records at the display resolution (0x0 lets the engine decide).
func Default() recording.RecordingConfig {
	return preset(5_000_000, 30, recording.CodecH264, 0, 0)
}

func HighQuality() recording.RecordingConfig {
	return preset(10_000_000, 30, recording.CodecH264, 1920, 1080)
}

func Performance() recording.RecordingConfig {
	return preset(2_000_000, 30, recording.CodecH264, 1280, 720)
}

func VR4K() recording.RecordingConfig {
	return preset(60_000_000, 72, recording.CodecH264, 3840, 2160)
}

func VRQHD() recording.RecordingConfig {
	return preset(45_000_000, 90, recording.CodecH265, 2560, 1440)
}

var presets = map[string]func() recording.RecordingConfig{
	PresetDefault:     Default,
	PresetHighQuality: HighQuality,
	PresetPerformance: Performance,
	PresetVR4K:        VR4K,
	PresetVRQHD:       VRQHD,
}

// PresetByName looks a preset up case-insensitively; "-" and "_" are
// interchangeable so "vr-4k" and "VR_4K" both match.
func PresetByName(name string) (recording.RecordingConfig, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	fn, ok := presets[key]
	if !ok {
		return recording.RecordingConfig{}, false
	}
	return fn(), true
}

// PresetNames returns every preset name, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
