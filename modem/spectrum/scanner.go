// Package spectrum locates candidate digital-mode carriers in an audio
// band. A Scanner accumulates FFT frames over the incoming samples and
// reports spectral peaks suitable for seeding demodulator channels.
package spectrum

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// frameSize is the FFT length. At 48 kHz it resolves 23.4 Hz per bin,
// enough to separate PSK channels at standard 50 Hz spacing.
const frameSize = 2048

// noiseFloorPercentile picks the spectrum level treated as noise; the
// 10th percentile sits below all but pathological signal loading.
const noiseFloorPercentile = 10

// Peak is one detected carrier candidate, strongest first in scan
// results.
type Peak struct {
	Frequency float64 // Hz, refined below bin resolution
	Power     float64 // linear, averaged over frames
	SNR       float64 // dB above the frame noise floor
}

// Scanner computes an averaged power spectrum over fixed-size frames.
// Like the modems it is single-threaded; the caller serializes access.
type Scanner struct {
	sampleRate float64
	minFreq    float64
	maxFreq    float64

	// minSpacing suppresses the weaker of two peaks closer than this.
	minSpacing float64

	fft    *fourier.FFT
	window []float64
	buffer []float64
	fill   int

	sum    []float64
	frames int
	binHz  float64
}

// NewScanner returns a scanner reporting peaks between minFreq and
// maxFreq.
func NewScanner(sampleRate, minFreq, maxFreq float64) (*Scanner, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("spectrum: sample rate %v must be positive", sampleRate)
	}
	if minFreq < 0 || maxFreq <= minFreq || maxFreq > sampleRate/2 {
		return nil, fmt.Errorf("spectrum: bad frequency range %v..%v at %v Hz",
			minFreq, maxFreq, sampleRate)
	}

	s := &Scanner{
		sampleRate: sampleRate,
		minFreq:    minFreq,
		maxFreq:    maxFreq,
		minSpacing: 50,
		fft:        fourier.NewFFT(frameSize),
		window:     make([]float64, frameSize),
		buffer:     make([]float64, frameSize),
		sum:        make([]float64, frameSize/2+1),
		binHz:      sampleRate / frameSize,
	}
	for i := range s.window {
		s.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(frameSize-1)))
	}
	return s, nil
}

// SetMinSpacing adjusts the minimum separation between reported peaks.
func (s *Scanner) SetMinSpacing(hz float64) {
	if hz > 0 {
		s.minSpacing = hz
	}
}

// Feed accumulates samples and returns how many full FFT frames
// completed during this call.
func (s *Scanner) Feed(samples []float32) int {
	completed := 0
	for _, v := range samples {
		s.buffer[s.fill] = float64(v)
		s.fill++
		if s.fill == frameSize {
			s.fill = 0
			s.accumulateFrame()
			completed++
		}
	}
	return completed
}

func (s *Scanner) accumulateFrame() {
	windowed := make([]float64, frameSize)
	for i, v := range s.buffer {
		windowed[i] = v * s.window[i]
	}
	coeffs := s.fft.Coefficients(nil, windowed)
	for i := range s.sum {
		re, im := real(coeffs[i]), imag(coeffs[i])
		s.sum[i] += re*re + im*im
	}
	s.frames++
}

// Peaks reports up to limit carrier candidates at least minSNRdB above
// the noise floor, strongest first. It returns nil until at least one
// frame has completed.
func (s *Scanner) Peaks(limit int, minSNRdB float64) []Peak {
	if s.frames == 0 || limit <= 0 {
		return nil
	}

	power := make([]float64, len(s.sum))
	for i, v := range s.sum {
		power[i] = v / float64(s.frames)
	}
	floor := percentile(power, noiseFloorPercentile)
	if floor < 1e-12 {
		floor = 1e-12
	}
	minRatio := math.Pow(10, minSNRdB/10)

	minBin := int(s.minFreq / s.binHz)
	if minBin < 1 {
		minBin = 1
	}
	maxBin := int(s.maxFreq / s.binHz)
	if maxBin > len(power)-2 {
		maxBin = len(power) - 2
	}

	var found []Peak
	for i := minBin; i <= maxBin; i++ {
		if power[i] <= power[i-1] || power[i] < power[i+1] {
			continue
		}
		ratio := power[i] / floor
		if ratio <= minRatio {
			continue
		}
		found = append(found, Peak{
			Frequency: s.refine(power, i),
			Power:     power[i],
			SNR:       10 * math.Log10(ratio),
		})
	}

	// Strongest first, then drop anything crowding a stronger peak.
	sort.Slice(found, func(i, j int) bool { return found[i].Power > found[j].Power })
	kept := found[:0]
	for _, p := range found {
		crowded := false
		for _, k := range kept {
			if math.Abs(p.Frequency-k.Frequency) < s.minSpacing {
				crowded = true
				break
			}
		}
		if !crowded {
			kept = append(kept, p)
		}
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// Analyze is the one-shot form: it clears prior state, consumes the
// whole buffer, and reports peaks. Trailing samples short of a full
// frame are ignored.
func (s *Scanner) Analyze(samples []float32, limit int, minSNRdB float64) []Peak {
	s.Reset()
	s.Feed(samples)
	return s.Peaks(limit, minSNRdB)
}

// Frames returns how many full FFT frames have been accumulated.
func (s *Scanner) Frames() int { return s.frames }

// BinWidth returns the FFT bin resolution in Hz.
func (s *Scanner) BinWidth() float64 { return s.binHz }

// FrameSize returns the number of samples per FFT frame.
func (s *Scanner) FrameSize() int { return frameSize }

// Reset discards buffered samples and the accumulated spectrum.
func (s *Scanner) Reset() {
	s.fill = 0
	s.frames = 0
	for i := range s.sum {
		s.sum[i] = 0
	}
}

// refine applies parabolic interpolation around a peak bin for sub-bin
// frequency accuracy.
func (s *Scanner) refine(power []float64, bin int) float64 {
	center := float64(bin) * s.binHz
	if bin <= 0 || bin >= len(power)-1 {
		return center
	}
	alpha, beta, gamma := power[bin-1], power[bin], power[bin+1]
	denom := alpha - 2*beta + gamma
	if denom == 0 {
		return center
	}
	delta := 0.5 * (alpha - gamma) / denom
	return center + delta*s.binHz
}

func percentile(values []float64, pct int) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := pct * (len(sorted) - 1) / 100
	return sorted[idx]
}
