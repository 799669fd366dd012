package recording

import (
	"fmt"
	"strings"
)

// CodecID identifies a video codec independently of any engine.
type CodecID string

const (
	CodecH264 CodecID = "h264"
	CodecH265 CodecID = "h265"
	CodecVP8  CodecID = "vp8"
	CodecVP9  CodecID = "vp9"
)

// CodecDescriptor is a static catalog entry.
type CodecDescriptor struct {
	ID          CodecID `json:"id"`
	MimeType    string  `json:"mime_type"`
	DisplayName string  `json:"display_name"`
}

// Codecs is the full catalog in preference order.
var Codecs = []CodecDescriptor{
	{ID: CodecH264, MimeType: "video/avc", DisplayName: "H.264 / AVC"},
	{ID: CodecH265, MimeType: "video/hevc", DisplayName: "H.265 / HEVC"},
	{ID: CodecVP8, MimeType: "video/x-vnd.on2.vp8", DisplayName: "VP8"},
	{ID: CodecVP9, MimeType: "video/x-vnd.on2.vp9", DisplayName: "VP9"},
}

// CodecByID returns the catalog entry for id.
func CodecByID(id CodecID) (CodecDescriptor, bool) {
	for _, c := range Codecs {
		if c.ID == id {
			return c, true
		}
	}
	return CodecDescriptor{}, false
}

// CodecByMime returns the catalog entry whose mime type matches, ignoring case.
func CodecByMime(mime string) (CodecDescriptor, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, c := range Codecs {
		if c.MimeType == mime {
			return c, true
		}
	}
	return CodecDescriptor{}, false
}

// MustCodec is CodecByID for catalog constants.
func MustCodec(id CodecID) CodecDescriptor {
	c, ok := CodecByID(id)
	if !ok {
		panic(fmt.Sprintf("recording: codec %q not in catalog", id))
	}
	return c
}

// ResolutionPreset is an immutable resolution entry.
type ResolutionPreset struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	DisplayName string `json:"display_name"`
}

// Pixels is Width*Height.
func (r ResolutionPreset) Pixels() int {
	return r.Width * r.Height
}

// FrameRatePreset is an immutable frame-rate entry.
type FrameRatePreset struct {
	FPS         int    `json:"fps"`
	DisplayName string `json:"display_name"`
}

// NewFrameRatePreset names fps the way the catalog does ("60 fps").
func NewFrameRatePreset(fps int) FrameRatePreset {
	return FrameRatePreset{FPS: fps, DisplayName: fmt.Sprintf("%d fps", fps)}
}
