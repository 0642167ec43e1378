package psk_test

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/psk"
)

func collect(sb *strings.Builder) modem.HandlerFuncs {
	return modem.HandlerFuncs{
		Decode: func(ch rune, _ float64) { sb.WriteRune(ch) },
	}
}

// addNoise mixes in white Gaussian noise at the given SNR in dB,
// relative to the measured power of the input.
func addNoise(samples []float32, snrDB float64, rng *rand.Rand) []float32 {
	var power float64
	for _, s := range samples {
		power += float64(s) * float64(s)
	}
	power /= float64(len(samples))
	sigma := math.Sqrt(power / math.Pow(10, snrDB/10))

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s + float32(rng.NormFloat64()*sigma)
	}
	return out
}

// errorRate is the sequential-match character error rate.
func errorRate(sent, decoded string) float64 {
	if sent == "" {
		return 0
	}
	matched, pos := 0, 0
	for _, want := range sent {
		idx := strings.IndexRune(decoded[pos:], want)
		if idx < 0 {
			continue
		}
		matched++
		pos += idx + len(string(want))
	}
	return 1 - float64(matched)/float64(len(sent))
}

func TestDemodulatorRoundTripBPSK(t *testing.T) {
	presets := []struct {
		name string
		cfg  psk.Config
	}{
		{"psk31", psk.PSK31Config()},
		{"bpsk63", psk.BPSK63Config()},
	}
	const text = "cq cq de w1aw pse k"

	for _, tc := range presets {
		t.Run(tc.name, func(t *testing.T) {
			mod, err := psk.NewModulator(tc.cfg)
			require.NoError(t, err)
			samples := mod.EncodeWithEnvelope(text, 200*time.Millisecond, 200*time.Millisecond)

			var sb strings.Builder
			demod, err := psk.NewDemodulator(tc.cfg, collect(&sb))
			require.NoError(t, err)

			// Odd chunk sizes exercise streaming across blocks.
			for len(samples) > 0 {
				n := 997
				if n > len(samples) {
					n = len(samples)
				}
				demod.Process(samples[:n])
				samples = samples[n:]
			}

			assert.Equal(t, text, sb.String())
		})
	}
}

func TestDemodulatorRoundTripQPSK(t *testing.T) {
	presets := []struct {
		name string
		cfg  psk.Config
	}{
		{"qpsk31", psk.QPSK31Config()},
		{"qpsk63", psk.QPSK63Config()},
	}
	const text = "qpsk test 123"

	for _, tc := range presets {
		t.Run(tc.name, func(t *testing.T) {
			mod, err := psk.NewModulator(tc.cfg)
			require.NoError(t, err)
			samples := mod.EncodeWithEnvelope(text, 200*time.Millisecond, 200*time.Millisecond)

			var sb strings.Builder
			demod, err := psk.NewDemodulator(tc.cfg, collect(&sb))
			require.NoError(t, err)
			demod.Process(samples)

			assert.Equal(t, text, sb.String())
		})
	}
}

func TestDemodulatorNoiseRobustness(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		snrDB  float64
		maxCER float64
	}{
		{"cq at 20dB", "CQ CQ CQ", 20, 0.10},
		{"test at 20dB", "TEST TEST", 20, 0.10},
		{"cq at 10dB", "CQ CQ CQ", 10, 0.50},
		{"test at 10dB", "TEST TEST", 10, 0.50},
	}

	rng := rand.New(rand.NewSource(11))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mod, err := psk.NewModulator(psk.PSK31Config())
			require.NoError(t, err)
			clean := mod.EncodeWithEnvelope(tc.text, 200*time.Millisecond, 100*time.Millisecond)
			noisy := addNoise(clean, tc.snrDB, rng)

			var sb strings.Builder
			demod, err := psk.NewDemodulator(psk.PSK31Config(), collect(&sb))
			require.NoError(t, err)
			demod.Process(noisy)

			cer := errorRate(tc.text, sb.String())
			assert.LessOrEqualf(t, cer, tc.maxCER,
				"decoded %q, CER %.2f", sb.String(), cer)
		})
	}
}

func TestDemodulatorSignalTransitions(t *testing.T) {
	mod, err := psk.NewModulator(psk.PSK31Config())
	require.NoError(t, err)
	signal := mod.EncodeWithEnvelope("test", 200*time.Millisecond, 200*time.Millisecond)

	// Whole symbols of silence, so the symbol clock stays aligned with
	// the transmitter when the signal begins. There is no timing
	// feedback to re-acquire a fractional offset.
	silence := make([]float32, 15*mod.SamplesPerSymbol())

	var sb strings.Builder
	var events []bool
	demod, err := psk.NewDemodulator(psk.PSK31Config(), modem.HandlerFuncs{
		Decode: func(ch rune, _ float64) { sb.WriteRune(ch) },
		Signal: func(on bool, _ float64) { events = append(events, on) },
	})
	require.NoError(t, err)

	demod.Process(silence)
	assert.False(t, demod.SignalDetected())

	demod.Process(signal)
	demod.Process(silence)
	assert.False(t, demod.SignalDetected())

	assert.Equal(t, "test", sb.String())
	require.GreaterOrEqual(t, len(events), 2)
	assert.True(t, events[0])
	assert.False(t, events[len(events)-1])
}

func TestDemodulatorManualSquelchGatesOutput(t *testing.T) {
	mod, err := psk.NewModulator(psk.PSK31Config())
	require.NoError(t, err)
	signal := mod.EncodeWithEnvelope("cq", 200*time.Millisecond, 100*time.Millisecond)
	for i := range signal {
		signal[i] *= 0.1 // symbol power lands near 0.0025
	}

	var sb strings.Builder
	demod, err := psk.NewDemodulator(psk.PSK31Config(), collect(&sb))
	require.NoError(t, err)
	demod.SetSquelch(0.01)
	demod.Process(signal)
	assert.Empty(t, sb.String())
	assert.False(t, demod.SignalDetected())

	var sb2 strings.Builder
	demod2, err := psk.NewDemodulator(psk.PSK31Config(), collect(&sb2))
	require.NoError(t, err)
	demod2.SetSquelch(0.001)
	demod2.Process(signal)
	assert.Equal(t, "cq", sb2.String())
}

func TestDemodulatorTimingErrorStaysAdvisory(t *testing.T) {
	mod, err := psk.NewModulator(psk.PSK31Config())
	require.NoError(t, err)
	signal := mod.EncodeWithEnvelope("rryy", 200*time.Millisecond, 100*time.Millisecond)

	demod, err := psk.NewDemodulator(psk.PSK31Config(), nil)
	require.NoError(t, err)
	demod.Process(signal)

	// The estimate is bounded and the symbol clock is unaffected by it:
	// windows advance at exactly one symbol length after the initial
	// half-symbol offset.
	assert.LessOrEqual(t, math.Abs(demod.TimingError()), 1.0)
	expected := (len(signal) - mod.SamplesPerSymbol()/2) / mod.SamplesPerSymbol()
	assert.Equal(t, int64(expected), demod.SymbolCount())
}

func TestNewDemodulatorRejectsInvalidConfig(t *testing.T) {
	cfg := psk.PSK31Config()
	cfg.SampleRate = 0
	_, err := psk.NewDemodulator(cfg, nil)
	assert.Error(t, err)

	cfg = psk.PSK31Config()
	cfg.PowerFloor = -1
	_, err = psk.NewDemodulator(cfg, nil)
	assert.Error(t, err)
}
