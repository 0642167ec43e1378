package main

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/digimodem/modem/rtty"
)

// rttyOnlyConfig returns a single-channel RTTY engine configuration.
// The first channel sits at the default 1000 Hz start mark.
func rttyOnlyConfig() *Config {
	cfg := DefaultConfig()
	cfg.PSK.Enabled = false
	cfg.RTTY.Channels = 1
	return cfg
}

// rttySignal modulates text at the engine's first channel frequency
func rttySignal(t *testing.T, cfg *Config, text string) []float32 {
	t.Helper()
	mc, err := cfg.RTTY.ModemConfig(cfg.Audio.SampleRate)
	require.NoError(t, err)
	mod, err := rtty.NewModulator(mc)
	require.NoError(t, err)
	return mod.EncodeWithIdle(text, 200*time.Millisecond, 100*time.Millisecond)
}

// processAll feeds samples through the engine in server-sized blocks
func processAll(e *Engine, samples []float32) {
	const block = 2048
	for i := 0; i < len(samples); i += block {
		end := i + block
		if end > len(samples) {
			end = len(samples)
		}
		e.ProcessBlock(samples[i:end])
	}
}

func TestEngineAssemblesLines(t *testing.T) {
	cfg := rttyOnlyConfig()
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	processAll(e, rttySignal(t, cfg, "CQ CQ DE N0CALL\nQTH OSLO"))
	e.FlushLines()

	lines := e.RecentLines(0)
	require.Len(t, lines, 2)

	assert.Equal(t, "CQ CQ DE N0CALL", lines[0].Text)
	assert.Equal(t, "QTH OSLO", lines[1].Text)
	assert.Equal(t, "rtty", lines[0].Mode)
	assert.Equal(t, 1, lines[0].Channel)
	assert.Equal(t, 1000.0, lines[0].Frequency)
	assert.False(t, lines[0].Time.IsZero())
}

func TestEngineFlushesAtLineLength(t *testing.T) {
	cfg := rttyOnlyConfig()
	cfg.Engine.LineLength = 8
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	processAll(e, rttySignal(t, cfg, "ABCDEFGHIJ"))
	e.FlushLines()

	lines := e.RecentLines(0)
	require.Len(t, lines, 2)
	assert.Equal(t, "ABCDEFGH", lines[0].Text)
	assert.Equal(t, "IJ", lines[1].Text)
}

func TestEngineRecentRingTrims(t *testing.T) {
	cfg := rttyOnlyConfig()
	cfg.Engine.RecentDecodes = 3
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	processAll(e, rttySignal(t, cfg, "A\nB\nC\nD\nE"))
	e.FlushLines()

	lines := e.RecentLines(0)
	require.Len(t, lines, 3)
	assert.Equal(t, "C", lines[0].Text)
	assert.Equal(t, "D", lines[1].Text)
	assert.Equal(t, "E", lines[2].Text)

	// A smaller limit returns the newest slice.
	last := e.RecentLines(1)
	require.Len(t, last, 1)
	assert.Equal(t, "E", last[0].Text)
}

func TestEngineControlSurface(t *testing.T) {
	cfg := rttyOnlyConfig()
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"rtty"}, e.Modes())

	require.NoError(t, e.SetSquelch("rtty", 0, 0.5))
	require.NoError(t, e.SetSquelch("rtty", 1, 0.5))
	require.NoError(t, e.SetSquelch("rtty", 1, 0))

	assert.Error(t, e.SetSquelch("rtty", 1, -0.1))
	assert.Error(t, e.SetSquelch("rtty", 99, 0.5))
	assert.Error(t, e.SetSquelch("cw", 1, 0.5))

	require.NoError(t, e.Retune("rtty", 1, 1200))
	channels := e.ChannelList()
	require.Len(t, channels, 1)
	assert.Equal(t, 1200.0, channels[0].Frequency)
	assert.Equal(t, "rtty", channels[0].Mode)

	assert.Error(t, e.Retune("rtty", 99, 1200))
	assert.Error(t, e.Retune("cw", 1, 1200))
}

func TestEngineAutoPlaceFallsBackOnSilence(t *testing.T) {
	cfg := rttyOnlyConfig()
	cfg.RTTY.Channels = 3
	cfg.RTTY.AutoPlace = true
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	// No channels until the placement scan completes.
	assert.Empty(t, e.ChannelList())

	processAll(e, make([]float32, (scanPlaceFrames+1)*2048))

	channels := e.ChannelList()
	require.Len(t, channels, 3)
	for i, ch := range channels {
		assert.Equal(t, 1000+float64(i)*cfg.RTTY.Spacing, ch.Frequency)
	}
}

func TestEngineAutoPlaceFindsCarrier(t *testing.T) {
	cfg := rttyOnlyConfig()
	cfg.RTTY.Channels = 2
	cfg.RTTY.Spacing = 200
	cfg.RTTY.AutoPlace = true
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	// One carrier at 1170 Hz inside the 800-1400 Hz scan range.
	rng := rand.New(rand.NewSource(11))
	samples := make([]float32, (scanPlaceFrames+1)*2048)
	for i := range samples {
		ts := float64(i) / cfg.Audio.SampleRate
		samples[i] = float32(0.5*math.Sin(2*math.Pi*1170*ts) + rng.NormFloat64()*0.002)
	}
	processAll(e, samples)

	// Channels are placed strongest peak first, so the carrier gets ID 1.
	channels := e.ChannelList()
	require.NotEmpty(t, channels)
	assert.InDelta(t, 1170, channels[0].Frequency, 10)
}

func TestEnginePSKModeLabel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTTY.Enabled = false
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"psk31"}, e.Modes())

	cfg2 := DefaultConfig()
	cfg2.RTTY.Enabled = false
	cfg2.PSK.Preset = "qpsk63"
	e2, err := NewEngine(cfg2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"qpsk63"}, e2.Modes())
}

func TestNewEngineRejectsEmptyAndBadConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTTY.Enabled = false
	cfg.PSK.Enabled = false
	_, err := NewEngine(cfg, nil)
	assert.Error(t, err)

	cfg2 := DefaultConfig()
	cfg2.RTTY.Preset = "baud9600"
	_, err = NewEngine(cfg2, nil)
	assert.Error(t, err)
}
