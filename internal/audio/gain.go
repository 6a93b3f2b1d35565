package audio

import "math"

const (
	// MinGain and MaxGain bound the pass-through output gain
	MinGain = 0.0
	MaxGain = 2.0

	unityGainEpsilon = 1e-6
)

// ClampGain limits gain to [MinGain, MaxGain]
func ClampGain(gain float32) float32 {
	if math.IsNaN(float64(gain)) || gain < MinGain {
		return MinGain
	}
	if gain > MaxGain {
		return MaxGain
	}
	return gain
}

// ApplyGain multiplies frames by gain in place. Unity gain leaves frames untouched.
func ApplyGain(frames []float32, gain float32) {
	if math.Abs(float64(gain-1)) <= unityGainEpsilon {
		return
	}
	for i := range frames {
		frames[i] *= gain
	}
}
