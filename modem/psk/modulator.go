package psk

import (
	"math"
	"time"

	"github.com/cwsl/digimodem/modem/dsp"
	"github.com/cwsl/digimodem/modem/varicode"
)

// phaseByDibit maps a Gray-coded dibit (first bit high) to its phase
// advance: 00 holds, 01 advances 90, 11 advances 180, 10 advances 270.
var phaseByDibit = [4]float64{
	0b00: 0,
	0b01: math.Pi / 2,
	0b10: 3 * math.Pi / 2,
	0b11: math.Pi,
}

// envelopeRampSymbols is the length of the amplitude ramp applied at
// the ends of an enveloped transmission.
const envelopeRampSymbols = 4

// Modulator converts text to PSK audio. A phase change is spread over
// one full symbol as a raised cosine; a zero bit or dibit continues the
// carrier unchanged.
type Modulator struct {
	cfg       Config
	osc       *dsp.Oscillator
	symbolLen int
	phase     float64
}

// NewModulator returns a modulator for cfg.
func NewModulator(cfg Config) (*Modulator, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Modulator{
		cfg:       cfg,
		osc:       dsp.NewOscillator(cfg.CenterFrequency, cfg.SampleRate),
		symbolLen: cfg.SamplesPerSymbol(),
	}, nil
}

// Encode converts text to modulated samples with no idle padding. The
// output begins and ends on a symbol boundary.
func (m *Modulator) Encode(text string) []float32 {
	bits := varicode.EncodeString(text)
	out := make([]float32, 0, m.symbolCount(len(bits))*m.symbolLen)
	return m.appendBits(out, bits)
}

// EncodeWithEnvelope surrounds the text with idle carrier and applies a
// raised-cosine amplitude ramp at both extremes to limit key-click
// splatter. Idle durations round to whole symbols.
func (m *Modulator) EncodeWithEnvelope(text string, preamble, postamble time.Duration) []float32 {
	bits := varicode.EncodeWithPreamble(text, 0)
	pre := m.symbolsFor(preamble)
	post := m.symbolsFor(postamble)

	out := make([]float32, 0, (pre+post+m.symbolCount(len(bits)))*m.symbolLen)
	out = m.appendIdle(out, pre)
	out = m.appendBits(out, bits)
	out = m.appendIdle(out, post)

	ramp := envelopeRampSymbols * m.symbolLen
	if 2*ramp > len(out) {
		ramp = len(out) / 2
	}
	for i := 0; i < ramp; i++ {
		g := float32((1 - math.Cos(math.Pi*float64(i)/float64(ramp))) / 2)
		out[i] *= g
		out[len(out)-1-i] *= g
	}
	return out
}

// GenerateIdle produces steady carrier for roughly the given duration,
// rounded to whole symbols.
func (m *Modulator) GenerateIdle(d time.Duration) []float32 {
	return m.GenerateIdleSymbols(m.symbolsFor(d))
}

// GenerateIdleSymbols produces exactly n symbols of steady carrier.
func (m *Modulator) GenerateIdleSymbols(n int) []float32 {
	return m.appendIdle(make([]float32, 0, n*m.symbolLen), n)
}

// Config returns the modulator's configuration.
func (m *Modulator) Config() Config { return m.cfg }

// SamplesPerSymbol returns the symbol length in samples.
func (m *Modulator) SamplesPerSymbol() int { return m.symbolLen }

// Reset zeroes the carrier phase state.
func (m *Modulator) Reset() {
	m.phase = 0
	m.osc.Reset()
}

func (m *Modulator) appendBits(out []float32, bits []byte) []float32 {
	if m.cfg.Modulation == QPSK {
		for i := 0; i < len(bits); i += 2 {
			var second byte
			if i+1 < len(bits) {
				second = bits[i+1] & 1
			}
			dibit := (bits[i]&1)<<1 | second
			out = m.appendSymbol(out, phaseByDibit[dibit])
		}
		return out
	}
	for _, bit := range bits {
		if bit&1 == 1 {
			out = m.appendSymbol(out, math.Pi)
		} else {
			out = m.appendSymbol(out, 0)
		}
	}
	return out
}

// appendSymbol emits one symbol, sweeping the phase offset by delta as
// a raised cosine across the symbol duration.
func (m *Modulator) appendSymbol(out []float32, delta float64) []float32 {
	if delta == 0 {
		for i := 0; i < m.symbolLen; i++ {
			out = append(out, m.osc.NextSampleShifted(m.phase))
		}
		return out
	}
	start := m.phase
	for i := 0; i < m.symbolLen; i++ {
		t := float64(i+1) / float64(m.symbolLen)
		ramp := (1 - math.Cos(math.Pi*t)) / 2
		out = append(out, m.osc.NextSampleShifted(start+delta*ramp))
	}
	m.phase = math.Mod(start+delta, 2*math.Pi)
	return out
}

func (m *Modulator) appendIdle(out []float32, symbols int) []float32 {
	for s := 0; s < symbols; s++ {
		out = m.appendSymbol(out, 0)
	}
	return out
}

func (m *Modulator) symbolsFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d.Seconds()*m.cfg.BaudRate + 0.5)
}

func (m *Modulator) symbolCount(bitCount int) int {
	per := m.cfg.Modulation.BitsPerSymbol()
	return (bitCount + per - 1) / per
}
