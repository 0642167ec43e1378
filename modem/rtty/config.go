// Package rtty implements the RTTY (FSK) modulator, demodulator and
// multi-channel demodulator. Characters travel as ITA2 codes framed as
// one start bit (space), five data bits LSB first (mark = 1) and one
// and a half stop bits (mark).
package rtty

import (
	"fmt"

	"github.com/cwsl/digimodem/modem"
)

// Config describes one RTTY mode. It is passed by value; retuning
// helpers return modified copies, so a demodulator's configuration
// never changes underneath it.
type Config struct {
	// BaudRate is the signalling rate, conventionally 45.45.
	BaudRate float64
	// MarkFrequency is the mark tone in Hz; the space tone sits Shift
	// Hz above it.
	MarkFrequency float64
	// Shift is the mark/space separation in Hz.
	Shift float64
	// SampleRate is the audio rate in Hz.
	SampleRate float64

	// FilterMargin widens the front-end bandpass beyond the tone pair.
	FilterMargin float64
	// FilterSections sets the bandpass cascade depth.
	FilterSections int

	// SquelchOverride, when positive, replaces the adaptive squelch
	// with a fixed strength threshold.
	SquelchOverride float64
	// MinConfidence is the soft-decision floor a character must clear.
	MinConfidence float64
	// AFCEnabled turns on automatic frequency tracking.
	AFCEnabled bool
	// InvertPolarity swaps the mark/space decision sense for stations
	// transmitting reversed.
	InvertPolarity bool
}

// StandardConfig returns the common amateur RTTY mode: 45.45 baud,
// 2125 Hz mark, 170 Hz shift.
func StandardConfig() Config {
	return Config{
		BaudRate:       45.45,
		MarkFrequency:  2125,
		Shift:          170,
		SampleRate:     modem.DefaultSampleRate,
		FilterMargin:   100,
		FilterSections: 2,
		MinConfidence:  0.25,
	}
}

// Baud50Config returns the 50 baud variant of the standard mode.
func Baud50Config() Config {
	c := StandardConfig()
	c.BaudRate = 50
	return c
}

// Baud75Config returns the 75 baud variant of the standard mode.
func Baud75Config() Config {
	c := StandardConfig()
	c.BaudRate = 75
	return c
}

// Baud100Config returns the 100 baud variant of the standard mode.
func Baud100Config() Config {
	c := StandardConfig()
	c.BaudRate = 100
	return c
}

// Wide425Config returns the 425 Hz shift variant used by some
// commercial and utility stations.
func Wide425Config() Config {
	c := StandardConfig()
	c.Shift = 425
	return c
}

// Wide850Config returns the 850 Hz shift variant.
func Wide850Config() Config {
	c := StandardConfig()
	c.Shift = 850
	return c
}

// Presets lists the mode names PresetConfig accepts.
func Presets() []string {
	return []string{"standard", "baud50", "baud75", "baud100", "wide425", "wide850"}
}

// PresetConfig resolves a preset name. The empty string selects the
// standard mode.
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", "standard":
		return StandardConfig(), nil
	case "baud50":
		return Baud50Config(), nil
	case "baud75":
		return Baud75Config(), nil
	case "baud100":
		return Baud100Config(), nil
	case "wide425":
		return Wide425Config(), nil
	case "wide850":
		return Wide850Config(), nil
	}
	return Config{}, fmt.Errorf("rtty: unknown preset %q", name)
}

// SpaceFrequency returns the space tone in Hz.
func (c Config) SpaceFrequency() float64 { return c.MarkFrequency + c.Shift }

// CenterFrequency returns the midpoint of the tone pair.
func (c Config) CenterFrequency() float64 { return c.MarkFrequency + c.Shift/2 }

// SamplesPerBit returns the bit period in samples. Fractional values
// are preserved; the modem accumulates the remainder rather than
// rounding per bit.
func (c Config) SamplesPerBit() float64 { return c.SampleRate / c.BaudRate }

// Bandwidth returns the occupied width the front-end filter passes.
func (c Config) Bandwidth() float64 { return c.Shift + 2*c.FilterMargin }

// WithMarkFrequency returns a copy tuned to a new mark frequency.
func (c Config) WithMarkFrequency(f float64) Config {
	c.MarkFrequency = f
	return c
}

// WithBaudRate returns a copy at a new baud rate.
func (c Config) WithBaudRate(baud float64) Config {
	c.BaudRate = baud
	return c
}

// WithSampleRate returns a copy at a new sample rate.
func (c Config) WithSampleRate(rate float64) Config {
	c.SampleRate = rate
	return c
}

// Validate rejects configurations the modem cannot run.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("rtty: sample rate must be positive, got %g", c.SampleRate)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("rtty: baud rate must be positive, got %g", c.BaudRate)
	}
	if c.MarkFrequency <= 0 {
		return fmt.Errorf("rtty: mark frequency must be positive, got %g", c.MarkFrequency)
	}
	if c.Shift <= 0 {
		return fmt.Errorf("rtty: shift must be positive, got %g", c.Shift)
	}
	if c.SpaceFrequency()+c.FilterMargin >= c.SampleRate/2 {
		return fmt.Errorf("rtty: tones reach past Nyquist (space %g Hz at %g Hz sample rate)",
			c.SpaceFrequency(), c.SampleRate)
	}
	if c.SamplesPerBit() < 8 {
		return fmt.Errorf("rtty: baud rate %g too fast for sample rate %g", c.BaudRate, c.SampleRate)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("rtty: min confidence %g outside [0,1]", c.MinConfidence)
	}
	return nil
}

// normalized fills unset tuning knobs with their defaults so the zero
// value of optional fields stays usable.
func (c Config) normalized() Config {
	if c.FilterMargin == 0 {
		c.FilterMargin = 100
	}
	if c.FilterSections == 0 {
		c.FilterSections = 2
	}
	return c
}
