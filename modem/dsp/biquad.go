package dsp

import "math"

// BandpassFilter is a single biquad bandpass section (RBJ cookbook,
// constant 0 dB peak gain) in direct form I. Gain at the center
// frequency is unity; skirts fall off on both sides.
type BandpassFilter struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64

	sampleRate float64
	center     float64
	low, high  float64
}

// NewBandpassFilter builds a section passing lowCutoff..highCutoff Hz.
func NewBandpassFilter(lowCutoff, highCutoff, sampleRate float64) *BandpassFilter {
	center := (lowCutoff + highCutoff) / 2
	bandwidth := highCutoff - lowCutoff
	q := center / bandwidth
	f := newBandpassQ(center, q, sampleRate)
	f.low, f.high = lowCutoff, highCutoff
	return f
}

// NewBandpassForTones builds a section bracketing a mark/space tone
// pair with margin Hz of headroom on each side.
func NewBandpassForTones(markFreq, spaceFreq, margin, sampleRate float64) *BandpassFilter {
	low := math.Min(markFreq, spaceFreq) - margin
	high := math.Max(markFreq, spaceFreq) + margin
	return NewBandpassFilter(low, high, sampleRate)
}

func newBandpassQ(center, q, sampleRate float64) *BandpassFilter {
	f := &BandpassFilter{sampleRate: sampleRate, center: center}
	omega := twoPi * center / sampleRate
	alpha := math.Sin(omega) / (2 * q)
	a0 := 1 + alpha
	f.b0 = alpha / a0
	f.b1 = 0
	f.b2 = -alpha / a0
	f.a1 = -2 * math.Cos(omega) / a0
	f.a2 = (1 - alpha) / a0
	return f
}

// Process filters one sample.
func (f *BandpassFilter) Process(sample float32) float32 {
	x := float64(sample)
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return float32(y)
}

// ProcessBlock filters a block, returning a new slice.
func (f *BandpassFilter) ProcessBlock(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = f.Process(s)
	}
	return out
}

// MagnitudeResponse evaluates |H| at freq Hz on the unit circle.
func (f *BandpassFilter) MagnitudeResponse(freq float64) float64 {
	w := twoPi * freq / f.sampleRate
	cos1, sin1 := math.Cos(w), math.Sin(w)
	cos2, sin2 := math.Cos(2*w), math.Sin(2*w)
	numRe := f.b0 + f.b1*cos1 + f.b2*cos2
	numIm := f.b1*sin1 + f.b2*sin2
	denRe := 1 + f.a1*cos1 + f.a2*cos2
	denIm := f.a1*sin1 + f.a2*sin2
	den := math.Hypot(denRe, denIm)
	if den == 0 {
		return 0
	}
	return math.Hypot(numRe, numIm) / den
}

// MagnitudeResponseDB returns the response at freq in dB, floored at
// -200 dB for numerically silent frequencies.
func (f *BandpassFilter) MagnitudeResponseDB(freq float64) float64 {
	m := f.MagnitudeResponse(freq)
	if m < 1e-10 {
		return -200
	}
	return 20 * math.Log10(m)
}

// Reset clears the filter memory. A zero input sample immediately
// after Reset produces exactly zero output.
func (f *BandpassFilter) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// CenterFrequency returns the configured center in Hz.
func (f *BandpassFilter) CenterFrequency() float64 { return f.center }

// Passband returns the configured low and high cutoffs in Hz.
func (f *BandpassFilter) Passband() (low, high float64) { return f.low, f.high }

// CascadedBandpassFilter chains identical bandpass sections for steeper
// skirts. Stopband rejection in dB grows roughly linearly with the
// section count while center gain stays at unity.
type CascadedBandpassFilter struct {
	sections []*BandpassFilter
}

// NewCascadedBandpassFilter builds a cascade of count sections passing
// lowCutoff..highCutoff Hz. count is clamped to at least 1.
func NewCascadedBandpassFilter(count int, lowCutoff, highCutoff, sampleRate float64) *CascadedBandpassFilter {
	if count < 1 {
		count = 1
	}
	c := &CascadedBandpassFilter{sections: make([]*BandpassFilter, count)}
	for i := range c.sections {
		c.sections[i] = NewBandpassFilter(lowCutoff, highCutoff, sampleRate)
	}
	return c
}

// NewCascadedBandpassForTones is the tone-pair form of the cascade
// constructor.
func NewCascadedBandpassForTones(count int, markFreq, spaceFreq, margin, sampleRate float64) *CascadedBandpassFilter {
	low := math.Min(markFreq, spaceFreq) - margin
	high := math.Max(markFreq, spaceFreq) + margin
	return NewCascadedBandpassFilter(count, low, high, sampleRate)
}

// Process filters one sample through every section.
func (c *CascadedBandpassFilter) Process(sample float32) float32 {
	for _, s := range c.sections {
		sample = s.Process(sample)
	}
	return sample
}

// ProcessBlock filters a block, returning a new slice.
func (c *CascadedBandpassFilter) ProcessBlock(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = c.Process(s)
	}
	return out
}

// MagnitudeResponse is the product of the section responses at freq.
func (c *CascadedBandpassFilter) MagnitudeResponse(freq float64) float64 {
	m := 1.0
	for _, s := range c.sections {
		m *= s.MagnitudeResponse(freq)
	}
	return m
}

// MagnitudeResponseDB returns the cascade response at freq in dB.
func (c *CascadedBandpassFilter) MagnitudeResponseDB(freq float64) float64 {
	m := c.MagnitudeResponse(freq)
	if m < 1e-10 {
		return -200
	}
	return 20 * math.Log10(m)
}

// Reset clears every section's memory.
func (c *CascadedBandpassFilter) Reset() {
	for _, s := range c.sections {
		s.Reset()
	}
}

// Sections returns the number of cascaded sections.
func (c *CascadedBandpassFilter) Sections() int { return len(c.sections) }

// CenterFrequency returns the center frequency of the cascade.
func (c *CascadedBandpassFilter) CenterFrequency() float64 {
	return c.sections[0].CenterFrequency()
}
