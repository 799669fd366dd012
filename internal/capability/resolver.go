// Package capability turns engine capability data into safe recording
// parameters. Apart from a per-handle capability cache it is stateless.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
	"github.com/tiroq/recordcore/internal/recording"
)

// HandleSource hands out the current engine handle and its generation. A nil
// handle means no engine is held.
type HandleSource interface {
	Handle() (engine.Engine, uint64)
}

// Well-known resolutions, used both as the fallback catalog and to name
// engine-reported sizes.
var (
	Res4K          = recording.ResolutionPreset{Width: 3840, Height: 2160, DisplayName: "4K (3840x2160)"}
	ResQHD         = recording.ResolutionPreset{Width: 2560, Height: 1440, DisplayName: "QHD (2560x1440)"}
	ResFHD         = recording.ResolutionPreset{Width: 1920, Height: 1080, DisplayName: "FHD (1920x1080)"}
	ResHD          = recording.ResolutionPreset{Width: 1280, Height: 720, DisplayName: "HD (1280x720)"}
	ResUltraWideVR = recording.ResolutionPreset{Width: 3664, Height: 1920, DisplayName: "Ultra-wide VR (3664x1920)"}
)

// FallbackCodecs is returned when the engine cannot be asked.
func FallbackCodecs() []recording.CodecDescriptor {
	return []recording.CodecDescriptor{recording.MustCodec(recording.CodecH264)}
}

// FallbackResolutions is returned when the engine cannot be asked.
func FallbackResolutions() []recording.ResolutionPreset {
	return []recording.ResolutionPreset{Res4K, ResQHD, ResFHD, ResHD, ResUltraWideVR}
}

// FallbackFrameRates is returned when the engine cannot be asked.
func FallbackFrameRates() []recording.FrameRatePreset {
	return []recording.FrameRatePreset{
		recording.NewFrameRatePreset(30),
		recording.NewFrameRatePreset(60),
	}
}

// NameResolution labels a size with its well-known name, or "WxH".
func NameResolution(width, height int) recording.ResolutionPreset {
	for _, known := range FallbackResolutions() {
		if known.Width == width && known.Height == height {
			return known
		}
	}
	return recording.ResolutionPreset{
		Width:       width,
		Height:      height,
		DisplayName: fmt.Sprintf("%dx%d", width, height),
	}
}

type capabilityCache struct {
	gen         uint64
	codecs      []recording.CodecDescriptor
	resolutions []recording.ResolutionPreset
	frameRates  []recording.FrameRatePreset
}

// Resolver answers capability questions for the current engine handle.
type Resolver struct {
	source HandleSource

	mu    sync.Mutex
	cache capabilityCache

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewResolver creates a resolver reading handles from source. source may be
// nil, in which case every query returns the fallback catalogs.
func NewResolver(source HandleSource) *Resolver {
	return &Resolver{source: source}
}

// SetLogger injects a diaglog.Logger. Passing nil disables logging.
func (r *Resolver) SetLogger(l *diaglog.Logger) {
	r.loggerMu.Lock()
	r.logger = l
	r.loggerMu.Unlock()
}

func (r *Resolver) log(entry diaglog.LogEntry) {
	r.loggerMu.RLock()
	l := r.logger
	r.loggerMu.RUnlock()
	if entry.Component == "" {
		entry.Component = diaglog.ComponentCapability
	}
	l.Log(entry)
}

func (r *Resolver) handle() (engine.Engine, uint64) {
	if r.source == nil {
		return nil, 0
	}
	return r.source.Handle()
}

// cached returns the cache for gen, dropping it if it belongs to another
// handle. Must be called with mu held.
func (r *Resolver) cached(gen uint64) *capabilityCache {
	if r.cache.gen != gen {
		r.cache = capabilityCache{gen: gen}
	}
	return &r.cache
}

// Refresh forgets everything learned from the engine.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	r.cache = capabilityCache{}
	r.mu.Unlock()
}

func (r *Resolver) fallback(query string, err error) {
	payload := map[string]interface{}{"query": query}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.log(diaglog.LogEntry{Event: diaglog.EventCapabilityFallback, Payload: payload})
}

// GetAvailableCodecs returns the catalog codecs the engine can encode.
// Unknown mime types are dropped; any failure yields FallbackCodecs.
func (r *Resolver) GetAvailableCodecs(ctx context.Context) []recording.CodecDescriptor {
	h, gen := r.handle()
	if h == nil {
		r.fallback("codecs", recording.ErrNoEngine)
		return FallbackCodecs()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cached(gen)
	if c.codecs != nil {
		return append([]recording.CodecDescriptor(nil), c.codecs...)
	}

	reported, err := h.GetAvailableCodecs(ctx)
	if err != nil {
		r.fallback("codecs", err)
		return FallbackCodecs()
	}

	seen := make(map[recording.CodecID]bool)
	var out []recording.CodecDescriptor
	for _, rc := range reported {
		desc, ok := recording.CodecByMime(rc.MimeType)
		if !ok || seen[desc.ID] {
			continue
		}
		seen[desc.ID] = true
		out = append(out, desc)
	}
	if len(out) == 0 {
		r.fallback("codecs", nil)
		return FallbackCodecs()
	}

	c.codecs = out
	return append([]recording.CodecDescriptor(nil), out...)
}

// GetOptimalResolutions returns the engine's preferred capture sizes, named.
func (r *Resolver) GetOptimalResolutions(ctx context.Context) []recording.ResolutionPreset {
	h, gen := r.handle()
	if h == nil {
		r.fallback("resolutions", recording.ErrNoEngine)
		return FallbackResolutions()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cached(gen)
	if c.resolutions != nil {
		return append([]recording.ResolutionPreset(nil), c.resolutions...)
	}

	reported, err := h.GetOptimalResolutions(ctx)
	if err != nil {
		r.fallback("resolutions", err)
		return FallbackResolutions()
	}

	var out []recording.ResolutionPreset
	for _, res := range reported {
		if res.Width <= 0 || res.Height <= 0 {
			continue
		}
		out = append(out, NameResolution(res.Width, res.Height))
	}
	if len(out) == 0 {
		r.fallback("resolutions", nil)
		return FallbackResolutions()
	}

	c.resolutions = out
	return append([]recording.ResolutionPreset(nil), out...)
}

// GetAvailableFrameRates asks engines implementing engine.FrameRateQuerier;
// everything else gets FallbackFrameRates.
func (r *Resolver) GetAvailableFrameRates(ctx context.Context) []recording.FrameRatePreset {
	h, gen := r.handle()
	if h == nil {
		r.fallback("frame_rates", recording.ErrNoEngine)
		return FallbackFrameRates()
	}
	q, ok := h.(engine.FrameRateQuerier)
	if !ok {
		return FallbackFrameRates()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cached(gen)
	if c.frameRates != nil {
		return append([]recording.FrameRatePreset(nil), c.frameRates...)
	}

	reported, err := q.GetSupportedFrameRates(ctx)
	if err != nil {
		r.fallback("frame_rates", err)
		return FallbackFrameRates()
	}

	var out []recording.FrameRatePreset
	for _, fps := range reported {
		if fps > 0 {
			out = append(out, recording.NewFrameRatePreset(fps))
		}
	}
	if len(out) == 0 {
		r.fallback("frame_rates", nil)
		return FallbackFrameRates()
	}

	c.frameRates = out
	return append([]recording.FrameRatePreset(nil), out...)
}

// GetRecommendedBitrate is RecommendedBitrate; it never consults the engine.
func (r *Resolver) GetRecommendedBitrate(width, height, frameRate int) int {
	return RecommendedBitrate(width, height, frameRate)
}

// QueryRecommendedBitrate prefers the engine's own recommendation and falls
// back to RecommendedBitrate when the engine is absent, fails or answers
// with a non-positive value.
func (r *Resolver) QueryRecommendedBitrate(ctx context.Context, width, height, frameRate int) int {
	h, _ := r.handle()
	if h == nil {
		return RecommendedBitrate(width, height, frameRate)
	}
	bitrate, err := h.GetRecommendedBitrate(ctx, width, height, frameRate)
	if err != nil || bitrate <= 0 {
		r.fallback("bitrate", err)
		return RecommendedBitrate(width, height, frameRate)
	}
	return bitrate
}

// BuildCustomConfig assembles a config from catalog picks. Audio is off, the
// duration is unlimited and the file is written while recording.
func BuildCustomConfig(codec recording.CodecDescriptor, res recording.ResolutionPreset, bitrate, frameRate int) recording.RecordingConfig {
	return recording.RecordingConfig{
		VideoBitrate:              bitrate,
		VideoFrameRate:            frameRate,
		VideoFormat:               codec.MimeType,
		VideoWidth:                res.Width,
		VideoHeight:               res.Height,
		AudioEnabled:              false,
		MaxRecordingDurationMs:    recording.UnlimitedDuration,
		WriteToFileWhileRecording: true,
	}
}
