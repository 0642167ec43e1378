// Package dsp provides the signal-processing primitives the modems are
// built from: a phase-continuous oscillator, Goertzel correlators, IIR
// bandpass filters and an AGC stage.
package dsp

import (
	"math"
	"time"
)

const twoPi = 2 * math.Pi

// Oscillator generates phase-continuous sine samples at a fixed sample
// rate. Frequency changes take effect on the next sample without a
// phase discontinuity.
type Oscillator struct {
	sampleRate float64
	frequency  float64
	phase      float64 // always in [0, 2pi)
	step       float64
}

// NewOscillator returns an oscillator at the given frequency in Hz.
func NewOscillator(frequency, sampleRate float64) *Oscillator {
	o := &Oscillator{sampleRate: sampleRate}
	o.SetFrequency(frequency)
	return o
}

// NextSample returns the next sample and advances the phase.
func (o *Oscillator) NextSample() float32 {
	s := math.Sin(o.phase)
	o.advance()
	return float32(s)
}

// NextSampleShifted returns the next sample with an added phase offset,
// advancing the underlying carrier phase as usual. Used by the PSK
// modulator to apply modulation phase on top of the running carrier.
func (o *Oscillator) NextSampleShifted(offset float64) float32 {
	s := math.Sin(o.phase + offset)
	o.advance()
	return float32(s)
}

func (o *Oscillator) advance() {
	o.phase += o.step
	if o.phase >= twoPi {
		o.phase -= twoPi
		if o.phase >= twoPi {
			o.phase = math.Mod(o.phase, twoPi)
		}
	}
}

// Generate produces count samples.
func (o *Oscillator) Generate(count int) []float32 {
	out := make([]float32, count)
	for i := range out {
		out[i] = o.NextSample()
	}
	return out
}

// GenerateDuration produces samples covering the given duration,
// rounded down to a whole sample count.
func (o *Oscillator) GenerateDuration(d time.Duration) []float32 {
	return o.Generate(int(d.Seconds() * o.sampleRate))
}

// SetFrequency changes the output frequency. The phase is left alone so
// the waveform stays continuous across the change.
func (o *Oscillator) SetFrequency(frequency float64) {
	o.frequency = frequency
	o.step = twoPi * frequency / o.sampleRate
}

// Frequency returns the current frequency in Hz.
func (o *Oscillator) Frequency() float64 { return o.frequency }

// SetPhase sets the phase, normalized to [0, 2pi).
func (o *Oscillator) SetPhase(phase float64) {
	p := math.Mod(phase, twoPi)
	if p < 0 {
		p += twoPi
	}
	o.phase = p
}

// Phase returns the current phase in [0, 2pi).
func (o *Oscillator) Phase() float64 { return o.phase }

// SampleRate returns the configured sample rate.
func (o *Oscillator) SampleRate() float64 { return o.sampleRate }

// Reset returns the phase to zero. Frequency is unchanged.
func (o *Oscillator) Reset() { o.phase = 0 }
