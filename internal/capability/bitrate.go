package capability

const (
	baseBitrate     = 5_000_000
	referencePixels = 1920 * 1080
	referenceFPS    = 30

	MinBitrate = 1_000_000
	MaxBitrate = 50_000_000
)

// RecommendedBitrate scales the 1080p30 base bitrate by pixel count and
// frame rate, clamped to [MinBitrate, MaxBitrate]. The product is evaluated
// left to right in float64 and truncated, so results are stable across
// platforms.
func RecommendedBitrate(width, height, frameRate int) int {
	pixels := float64(width) * float64(height)
	bitrate := float64(baseBitrate) * pixels / float64(referencePixels) * float64(frameRate) / float64(referenceFPS)

	switch {
	case bitrate < MinBitrate:
		return MinBitrate
	case bitrate > MaxBitrate:
		return MaxBitrate
	default:
		return int(bitrate)
	}
}
