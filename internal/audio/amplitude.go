package audio

import "math"

const (
	amplitudeStride = 4
	amplitudeGain   = 4.0
)

// Amplitude is a stride-sampled RMS of a native buffer scaled into [0,1].
// It is a visualization signal only.
func Amplitude(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	var n int
	for i := 0; i < len(samples); i += amplitudeStride {
		s := float64(samples[i])
		sum += s * s
		n++
	}
	level := math.Sqrt(sum/float64(n)) * amplitudeGain
	switch {
	case math.IsNaN(level) || level <= 0:
		return 0
	case level >= 1:
		return 1
	default:
		return float32(level)
	}
}
