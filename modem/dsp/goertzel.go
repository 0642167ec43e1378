package dsp

import "math"

// detectorPowerFloor is the total power below which an FSKDetector
// treats its input as silence and reports zero correlation.
const detectorPowerFloor = 1e-9

// Goertzel computes the power of a single frequency bin over a
// fixed-size sample window using the Goertzel recursion. Power is
// normalized so a full-scale tone at the bin frequency reads close
// to 1.0 regardless of window size.
type Goertzel struct {
	coeff     float64
	blockSize int
	q1, q2    float64
	count     int
}

// NewGoertzel returns a correlator for frequency Hz with the given
// window size. Frequency resolution is roughly sampleRate/blockSize.
func NewGoertzel(frequency, sampleRate float64, blockSize int) *Goertzel {
	omega := twoPi * frequency / sampleRate
	return &Goertzel{coeff: 2 * math.Cos(omega), blockSize: blockSize}
}

// ProcessBlock computes the bin power over a complete window. The
// accumulator is reset first, so the result depends only on samples.
// The window length should match the configured block size.
func (g *Goertzel) ProcessBlock(samples []float32) float64 {
	g.Reset()
	q1, q2 := 0.0, 0.0
	for _, s := range samples {
		q0 := g.coeff*q1 - q2 + float64(s)
		q2, q1 = q1, q0
	}
	return g.normalize(q1, q2, len(samples))
}

// Process accumulates a single sample. Once blockSize samples have been
// seen it returns the window power and true, then starts a new window.
// This is the incremental counterpart of ProcessBlock.
func (g *Goertzel) Process(sample float32) (float64, bool) {
	q0 := g.coeff*g.q1 - g.q2 + float64(sample)
	g.q2, g.q1 = g.q1, q0
	g.count++
	if g.count < g.blockSize {
		return 0, false
	}
	power := g.normalize(g.q1, g.q2, g.blockSize)
	g.Reset()
	return power, true
}

func (g *Goertzel) normalize(q1, q2 float64, n int) float64 {
	if n == 0 {
		return 0
	}
	power := q1*q1 + q2*q2 - g.coeff*q1*q2
	half := float64(n) / 2
	return power / (half * half)
}

// Reset clears the accumulator and restarts the current window.
func (g *Goertzel) Reset() {
	g.q1, g.q2 = 0, 0
	g.count = 0
}

// BlockSize returns the configured window size in samples.
func (g *Goertzel) BlockSize() int { return g.blockSize }

// FSKDetector discriminates between a mark and a space tone by
// comparing the power of two Goertzel bins over the same window.
type FSKDetector struct {
	mark  *Goertzel
	space *Goertzel
}

// NewFSKDetector builds a detector for the given tone pair.
func NewFSKDetector(markFreq, spaceFreq, sampleRate float64, blockSize int) *FSKDetector {
	return &FSKDetector{
		mark:  NewGoertzel(markFreq, sampleRate, blockSize),
		space: NewGoertzel(spaceFreq, sampleRate, blockSize),
	}
}

// Measure returns the normalized mark/space correlation together with
// the total power of the two bins. Correlation is
// (mark-space)/(mark+space): +1 pure mark, -1 pure space, 0 when the
// total power is below the silence floor.
func (d *FSKDetector) Measure(window []float32) (corr, total float64) {
	markPower := d.mark.ProcessBlock(window)
	spacePower := d.space.ProcessBlock(window)
	total = markPower + spacePower
	if total < detectorPowerFloor {
		return 0, total
	}
	return (markPower - spacePower) / total, total
}

// Correlate returns only the normalized correlation for window.
func (d *FSKDetector) Correlate(window []float32) float64 {
	corr, _ := d.Measure(window)
	return corr
}

// BlockSize returns the window size both bins expect.
func (d *FSKDetector) BlockSize() int { return d.mark.BlockSize() }
