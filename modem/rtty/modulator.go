package rtty

import (
	"time"

	"github.com/cwsl/digimodem/modem/baudot"
	"github.com/cwsl/digimodem/modem/dsp"
)

// Modulator converts text to RTTY audio. The oscillator switches
// between mark and space without phase discontinuities, and fractional
// bit lengths are carried forward so long transmissions keep exact
// timing at any baud rate.
type Modulator struct {
	cfg   Config
	osc   *dsp.Oscillator
	codec *baudot.Codec

	markFreq  float64
	spaceFreq float64
	remainder float64 // fractional samples owed to the bit clock
}

// NewModulator returns a modulator for cfg.
func NewModulator(cfg Config) (*Modulator, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Modulator{
		cfg:       cfg,
		codec:     baudot.NewCodec(),
		markFreq:  cfg.MarkFrequency,
		spaceFreq: cfg.SpaceFrequency(),
	}
	if cfg.InvertPolarity {
		m.markFreq, m.spaceFreq = m.spaceFreq, m.markFreq
	}
	m.osc = dsp.NewOscillator(m.markFreq, cfg.SampleRate)
	return m, nil
}

// Encode converts text to audio samples. The Baudot shift state
// carries across calls, matching a teleprinter left keyed up.
func (m *Modulator) Encode(text string) []float32 {
	codes := m.codec.EncodeString(text)
	out := make([]float32, 0, m.estimate(len(codes)))
	for _, code := range codes {
		out = m.appendCode(out, code)
	}
	return out
}

// EncodeWithIdle surrounds the text with mark idle tone. The preamble
// gives a receiving demodulator time to settle its AGC and squelch
// before the first start bit.
func (m *Modulator) EncodeWithIdle(text string, preamble, postamble time.Duration) []float32 {
	codes := m.codec.EncodeWithPreamble(text, 2)
	pre := int(preamble.Seconds() * m.cfg.SampleRate)
	post := int(postamble.Seconds() * m.cfg.SampleRate)

	out := make([]float32, 0, pre+post+m.estimate(len(codes)))
	m.osc.SetFrequency(m.markFreq)
	out = append(out, m.osc.Generate(pre)...)
	for _, code := range codes {
		out = m.appendCode(out, code)
	}
	m.osc.SetFrequency(m.markFreq)
	return append(out, m.osc.Generate(post)...)
}

// GenerateIdle produces mark tone for the given duration.
func (m *Modulator) GenerateIdle(d time.Duration) []float32 {
	m.osc.SetFrequency(m.markFreq)
	return m.osc.GenerateDuration(d)
}

// Config returns the modulator's configuration.
func (m *Modulator) Config() Config { return m.cfg }

// Reset returns the codec to letters shift and the bit clock to a
// whole-sample boundary. The oscillator phase is left alone.
func (m *Modulator) Reset() {
	m.codec.Reset()
	m.remainder = 0
}

// appendCode emits one framed character: start, five data bits LSB
// first, one and a half stop bits.
func (m *Modulator) appendCode(out []float32, code byte) []float32 {
	out = m.appendBit(out, false, 1) // start
	for i := 0; i < 5; i++ {
		out = m.appendBit(out, code>>uint(i)&1 == 1, 1)
	}
	return m.appendBit(out, true, 1.5) // stop
}

func (m *Modulator) appendBit(out []float32, mark bool, bits float64) []float32 {
	if mark {
		m.osc.SetFrequency(m.markFreq)
	} else {
		m.osc.SetFrequency(m.spaceFreq)
	}
	exact := m.cfg.SamplesPerBit()*bits + m.remainder
	n := int(exact)
	m.remainder = exact - float64(n)
	return append(out, m.osc.Generate(n)...)
}

func (m *Modulator) estimate(codes int) int {
	return int(float64(codes)*7.5*m.cfg.SamplesPerBit()) + codes
}
