package dsp

import "math"

// AGC normalizes input amplitude ahead of tone detection. The envelope
// tracker attacks quickly when the input gets louder and decays slowly
// when it fades, so short noise bursts do not collapse the gain.
type AGC struct {
	attack  float64
	decay   float64
	minGain float64
	maxGain float64
	peak    float64
}

// NewAGC builds a gain stage. attack and decay are per-sample envelope
// step fractions; gain is clamped to [minGain, maxGain].
func NewAGC(attack, decay, minGain, maxGain float64) *AGC {
	return &AGC{attack: attack, decay: decay, minGain: minGain, maxGain: maxGain}
}

// Process scales one sample toward unit amplitude.
func (a *AGC) Process(sample float32) float32 {
	mag := math.Abs(float64(sample))
	if mag > a.peak {
		a.peak += (mag - a.peak) * a.attack
	} else {
		a.peak += (mag - a.peak) * a.decay
	}
	return float32(float64(sample) * a.Gain())
}

// ProcessBlock scales a block in place and returns it.
func (a *AGC) ProcessBlock(samples []float32) []float32 {
	for i, s := range samples {
		samples[i] = a.Process(s)
	}
	return samples
}

// Gain returns the current clamped gain.
func (a *AGC) Gain() float64 {
	if a.peak <= 0 {
		return a.maxGain
	}
	g := 1 / a.peak
	if g < a.minGain {
		return a.minGain
	}
	if g > a.maxGain {
		return a.maxGain
	}
	return g
}

// Envelope returns the tracked peak amplitude.
func (a *AGC) Envelope() float64 { return a.peak }

// Reset clears the envelope tracker.
func (a *AGC) Reset() { a.peak = 0 }
