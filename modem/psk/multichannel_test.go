package psk_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/digimodem/modem"
	"github.com/cwsl/digimodem/modem/psk"
)

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
	var notifications int
	handler := modem.ChannelHandlerFuncs{
		Channels: func([]modem.Channel) { notifications++ },
	}

	m, err := psk.NewMultiDemodulator(psk.PSK31Config(), handler)
	require.NoError(t, err)

	id1, err := m.AddChannel(1000)
	require.NoError(t, err)
	id2, err := m.AddChannel(1050)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ChannelCount())

	chans := m.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, 1000.0, chans[0].Frequency)
	assert.Equal(t, 1050.0, chans[1].Frequency)
	assert.Equal(t, id1, chans[0].ID)
	assert.Equal(t, id2, chans[1].ID)

	assert.True(t, m.RemoveChannel(id2))
	assert.False(t, m.RemoveChannel(id2))
	m.RemoveAllChannels()
	assert.Zero(t, m.ChannelCount())
	assert.Equal(t, 4, notifications)
}

func TestMultiDemodulatorStandardBandLayout(t *testing.T) {
	m, err := psk.NewStandardBand(psk.PSK31Config(), 500, nil)
	require.NoError(t, err)
	require.Equal(t, psk.DefaultChannelCount, m.ChannelCount())

	for i, ch := range m.Channels() {
		assert.Equal(t, 500+float64(i)*psk.DefaultChannelSpacing, ch.Frequency)
	}
}

func TestMultiDemodulatorIsolation(t *testing.T) {
	const (
		freq1    = 1000.0
		freq2    = 1100.0
		pattern1 = "abcd"
		pattern2 = "wxyz"
	)

	mod1, err := psk.NewModulator(psk.PSK31Config().WithCenterFrequency(freq1))
	require.NoError(t, err)
	mod2, err := psk.NewModulator(psk.PSK31Config().WithCenterFrequency(freq2))
	require.NoError(t, err)

	s1 := mod1.EncodeWithEnvelope(strings.Repeat(pattern1, 8), 200*time.Millisecond, 100*time.Millisecond)
	s2 := mod2.EncodeWithEnvelope(strings.Repeat(pattern2, 8), 300*time.Millisecond, 100*time.Millisecond)
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

	m, err := psk.NewMultiDemodulator(psk.PSK31Config(), handler)
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

func TestMultiDemodulatorRetuneAndSquelch(t *testing.T) {
	m, err := psk.NewMultiDemodulator(psk.PSK31Config(), nil)
	require.NoError(t, err)
	id, err := m.AddChannel(1000)
	require.NoError(t, err)

	require.NoError(t, m.RetuneChannel(id, 1200))
	assert.Equal(t, 1200.0, m.Channels()[0].Frequency)
	require.NoError(t, m.SetChannelSquelch(id, 0.2))
	m.SetSquelchAll(0)

	assert.Error(t, m.RetuneChannel(77, 900))
	assert.Error(t, m.SetChannelSquelch(77, 0.2))
}
