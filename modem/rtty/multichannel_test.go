package rtty_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/rtty"
)

// mixSignals sums two sample streams at half amplitude, zero-padding
// the shorter one.
func mixSignals(a, b []float32) []float32 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := range out {
		var va, vb float32
		if i < len(a) {
			va = a[i]
		}
		if i < len(b) {
			vb = b[i]
		}
		out[i] = 0.5 * (va + vb)
	}
	return out
}

func countLetters(s, letters string) int {
	n := 0
	for _, ch := range s {
		if strings.ContainsRune(letters, ch) {
			n++
		}
	}
	return n
}

func TestMultiDemodulatorChannelLifecycle(t *testing.T) {
	var notified [][]modem.Channel
	handler := modem.ChannelHandlerFuncs{
		Channels: func(chs []modem.Channel) { notified = append(notified, chs) },
	}

	m, err := rtty.NewMultiDemodulator(rtty.StandardConfig(), handler)
	require.NoError(t, err)
	assert.Zero(t, m.ChannelCount())

	id1, err := m.AddChannel(1000)
	require.NoError(t, err)
	id2, err := m.AddChannel(1170)
	require.NoError(t, err)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)
	assert.Equal(t, 2, m.ChannelCount())

	chans := m.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, 1000.0, chans[0].Frequency)
	assert.Equal(t, 1170.0, chans[1].Frequency)

	assert.True(t, m.RemoveChannel(id1))
	assert.False(t, m.RemoveChannel(id1))
	assert.Equal(t, 1, m.ChannelCount())

	m.RemoveAllChannels()
	assert.Zero(t, m.ChannelCount())

	// One notification per add, remove, and remove-all.
	require.Len(t, notified, 4)
	assert.Len(t, notified[1], 2)
	assert.Empty(t, notified[3])
}

func TestMultiDemodulatorStandardBandLayout(t *testing.T) {
	m, err := rtty.NewStandardBand(rtty.StandardConfig(), 1000, nil)
	require.NoError(t, err)
	require.Equal(t, rtty.DefaultChannelCount, m.ChannelCount())

	for i, ch := range m.Channels() {
		assert.Equal(t, 1000+float64(i)*rtty.DefaultChannelSpacing, ch.Frequency)
	}
}

func TestMultiDemodulatorIsolation(t *testing.T) {
	const (
		freq1    = 2125.0
		freq2    = 2325.0 // 200 Hz above
		pattern1 = "ABCD"
		pattern2 = "WXYZ"
	)

	mod1, err := rtty.NewModulator(rtty.StandardConfig().WithMarkFrequency(freq1))
	require.NoError(t, err)
	mod2, err := rtty.NewModulator(rtty.StandardConfig().WithMarkFrequency(freq2))
	require.NoError(t, err)

	// Staggered preambles keep the two bit clocks from aligning.
	s1 := mod1.EncodeWithIdle(strings.Repeat(pattern1, 10), 150*time.Millisecond, 150*time.Millisecond)
	s2 := mod2.EncodeWithIdle(strings.Repeat(pattern2, 10), 230*time.Millisecond, 70*time.Millisecond)
	mixed := mixSignals(s1, s2)

	decoded := map[float64]*strings.Builder{
		freq1: {},
		freq2: {},
	}
	handler := modem.ChannelHandlerFuncs{
		HandlerFuncs: modem.HandlerFuncs{
			Decode: func(ch rune, freq float64) {
				if sb, ok := decoded[freq]; ok {
					sb.WriteRune(ch)
				}
			},
		},
	}

	m, err := rtty.NewMultiDemodulator(rtty.StandardConfig(), handler)
	require.NoError(t, err)
	_, err = m.AddChannel(freq1)
	require.NoError(t, err)
	_, err = m.AddChannel(freq2)
	require.NoError(t, err)

	m.Process(mixed)

	out1 := decoded[freq1].String()
	out2 := decoded[freq2].String()

	own1 := countLetters(out1, pattern1)
	foreign1 := countLetters(out1, pattern2)
	own2 := countLetters(out2, pattern2)
	foreign2 := countLetters(out2, pattern1)

	assert.Greaterf(t, own1, foreign1, "channel 1 decoded %q", out1)
	assert.Greaterf(t, own2, foreign2, "channel 2 decoded %q", out2)
	assert.GreaterOrEqual(t, own1, 8, "channel 1 decoded %q", out1)
	assert.GreaterOrEqual(t, own2, 8, "channel 2 decoded %q", out2)
}

func TestMultiDemodulatorPerChannelOverrides(t *testing.T) {
	m, err := rtty.NewMultiDemodulator(rtty.StandardConfig(), nil)
	require.NoError(t, err)
	id, err := m.AddChannel(2125)
	require.NoError(t, err)

	require.NoError(t, m.RetuneChannel(id, 2225))
	assert.Equal(t, 2225.0, m.Channels()[0].Frequency)

	require.NoError(t, m.SetChannelBaudRate(id, 75))
	require.NoError(t, m.SetChannelPolarity(id, true))
	require.NoError(t, m.SetChannelSquelch(id, 0.4))

	assert.Error(t, m.RetuneChannel(99, 2000))
	assert.Error(t, m.SetChannelBaudRate(99, 75))
	assert.Error(t, m.SetChannelPolarity(99, true))
	assert.Error(t, m.SetChannelSquelch(99, 0.4))
}

func TestMultiDemodulatorReconfiguredChannelStillDecodes(t *testing.T) {
	var sb strings.Builder
	handler := modem.ChannelHandlerFuncs{
		HandlerFuncs: modem.HandlerFuncs{
			Decode: func(ch rune, _ float64) { sb.WriteRune(ch) },
		},
	}

	m, err := rtty.NewMultiDemodulator(rtty.StandardConfig(), handler)
	require.NoError(t, err)
	id, err := m.AddChannel(2125)
	require.NoError(t, err)

	require.NoError(t, m.SetChannelBaudRate(id, 75))

	mod, err := rtty.NewModulator(rtty.Baud75Config())
	require.NoError(t, err)
	m.Process(mod.EncodeWithIdle("TEST", 150*time.Millisecond, 100*time.Millisecond))

	assert.Equal(t, "TEST", sb.String())
}

func TestMultiDemodulatorSquelchBroadcast(t *testing.T) {
	var sb strings.Builder
	handler := modem.ChannelHandlerFuncs{
		HandlerFuncs: modem.HandlerFuncs{
			Decode: func(ch rune, _ float64) { sb.WriteRune(ch) },
		},
	}

	m, err := rtty.NewMultiDemodulator(rtty.StandardConfig(), handler)
	require.NoError(t, err)
	_, err = m.AddChannel(2125)
	require.NoError(t, err)

	mod, err := rtty.NewModulator(rtty.StandardConfig())
	require.NoError(t, err)
	signal := mod.EncodeWithIdle("CQ", 150*time.Millisecond, 50*time.Millisecond)

	// An override above full-scale strength silences every channel.
	m.SetSquelchAll(1.5)
	m.Process(signal)
	assert.Empty(t, sb.String())

	// A fresh bank with adaptive squelch decodes the same signal. The
	// first bank is left squelched: its noise floor tracked the strong
	// carrier the whole time the override held detection off.
	m2, err := rtty.NewMultiDemodulator(rtty.StandardConfig(), handler)
	require.NoError(t, err)
	_, err = m2.AddChannel(2125)
	require.NoError(t, err)
	mod.Reset()
	m2.Process(mod.EncodeWithIdle("CQ", 150*time.Millisecond, 50*time.Millisecond))
	assert.Equal(t, "CQ", sb.String())
}
