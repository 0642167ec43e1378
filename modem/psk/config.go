// Package psk implements the PSK31 family of keyboard modes: BPSK and
// QPSK at 31.25 or 62.5 baud, with Varicode framing. Phase transitions
// are raised-cosine shaped over a full symbol, so the phase is flattest
// at symbol boundaries and the decision gates integrate there.
package psk

import (
	"fmt"

	"github.com/cwsl/digimodem/modem"
)

// Modulation selects the constellation.
type Modulation int

const (
	BPSK Modulation = iota
	QPSK
)

func (m Modulation) String() string {
	switch m {
	case BPSK:
		return "bpsk"
	case QPSK:
		return "qpsk"
	}
	return "unknown"
}

// BitsPerSymbol returns 1 for BPSK and 2 for QPSK.
func (m Modulation) BitsPerSymbol() int {
	if m == QPSK {
		return 2
	}
	return 1
}

// Config holds the parameters shared by the PSK modulator and
// demodulator.
type Config struct {
	Modulation      Modulation
	BaudRate        float64
	CenterFrequency float64
	SampleRate      float64

	// SquelchOverride, when positive, replaces adaptive detection with
	// a fixed symbol-power threshold.
	SquelchOverride float64

	// PowerFloor is the minimum symbol power treated as signal. Zero
	// selects the default.
	PowerFloor float64
}

const defaultPowerFloor = 0.0005

// PSK31Config is classic BPSK at 31.25 baud on a 1 kHz audio carrier.
func PSK31Config() Config {
	return Config{
		Modulation:      BPSK,
		BaudRate:        31.25,
		CenterFrequency: 1000,
		SampleRate:      modem.DefaultSampleRate,
		PowerFloor:      defaultPowerFloor,
	}
}

// BPSK63Config doubles the symbol rate of PSK31.
func BPSK63Config() Config {
	cfg := PSK31Config()
	cfg.BaudRate = 62.5
	return cfg
}

// QPSK31Config carries two bits per symbol at the PSK31 rate.
func QPSK31Config() Config {
	cfg := PSK31Config()
	cfg.Modulation = QPSK
	return cfg
}

// QPSK63Config carries two bits per symbol at the BPSK63 rate.
func QPSK63Config() Config {
	cfg := BPSK63Config()
	cfg.Modulation = QPSK
	return cfg
}

// Presets lists the mode names PresetConfig accepts.
func Presets() []string {
	return []string{"psk31", "bpsk63", "qpsk31", "qpsk63"}
}

// PresetConfig resolves a preset name. The empty string selects PSK31.
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", "psk31":
		return PSK31Config(), nil
	case "bpsk63":
		return BPSK63Config(), nil
	case "qpsk31":
		return QPSK31Config(), nil
	case "qpsk63":
		return QPSK63Config(), nil
	}
	return Config{}, fmt.Errorf("psk: unknown preset %q", name)
}

// WithCenterFrequency returns a copy tuned to a different carrier.
func (c Config) WithCenterFrequency(freq float64) Config {
	c.CenterFrequency = freq
	return c
}

// WithSampleRate returns a copy at a different sample rate.
func (c Config) WithSampleRate(rate float64) Config {
	c.SampleRate = rate
	return c
}

// SamplesPerSymbol returns the rounded symbol length in samples.
func (c Config) SamplesPerSymbol() int {
	return int(c.SampleRate/c.BaudRate + 0.5)
}

// Validate rejects configurations the modem cannot run.
func (c Config) Validate() error {
	if c.Modulation != BPSK && c.Modulation != QPSK {
		return fmt.Errorf("psk: unknown modulation %d", c.Modulation)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("psk: sample rate %v must be positive", c.SampleRate)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("psk: baud rate %v must be positive", c.BaudRate)
	}
	if c.CenterFrequency <= 0 {
		return fmt.Errorf("psk: center frequency %v must be positive", c.CenterFrequency)
	}
	if c.CenterFrequency >= c.SampleRate/2 {
		return fmt.Errorf("psk: center frequency %v exceeds Nyquist for %v Hz",
			c.CenterFrequency, c.SampleRate)
	}
	if c.SamplesPerSymbol() < 16 {
		return fmt.Errorf("psk: %v baud at %v Hz leaves %d samples per symbol, need at least 16",
			c.BaudRate, c.SampleRate, c.SamplesPerSymbol())
	}
	if c.SquelchOverride < 0 {
		return fmt.Errorf("psk: squelch override %v must not be negative", c.SquelchOverride)
	}
	if c.PowerFloor < 0 {
		return fmt.Errorf("psk: power floor %v must not be negative", c.PowerFloor)
	}
	return nil
}

func (c Config) normalized() Config {
	if c.PowerFloor == 0 {
		c.PowerFloor = defaultPowerFloor
	}
	return c
}
