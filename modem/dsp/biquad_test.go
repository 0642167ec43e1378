package dsp_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/digimodem/modem/dsp"
)

func TestBandpassCenterGain(t *testing.T) {
	cases := []struct {
		name      string
		low, high float64
	}{
		{"rtty standard", 2025, 2395},
		{"rtty wide", 2025, 3075},
		{"psk narrow", 960, 1040},
		{"low band", 400, 600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := dsp.NewBandpassFilter(tc.low, tc.high, rate)
			gain := f.MagnitudeResponse(f.CenterFrequency())
			assert.GreaterOrEqual(t, gain, 0.9)
			assert.LessOrEqual(t, gain, 1.1)
		})
	}
}

func TestBandpassStopbandSingleSection(t *testing.T) {
	f := dsp.NewBandpassFilter(2025, 2395, rate)
	assert.Less(t, f.MagnitudeResponseDB(300), -20.0)
	assert.Less(t, f.MagnitudeResponseDB(6000), -20.0)
}

func TestCascadeStopbandBeyondCutoffs(t *testing.T) {
	// One bandwidth beyond each cutoff the three-section cascade is
	// already past 20 dB down.
	c := dsp.NewCascadedBandpassFilter(3, 2025, 2395, rate)
	bw := 2395.0 - 2025.0
	assert.Less(t, c.MagnitudeResponseDB(2025-bw), -20.0)
	assert.Less(t, c.MagnitudeResponseDB(2395+bw), -20.0)
	assert.InDelta(t, 1.0, c.MagnitudeResponse(c.CenterFrequency()), 0.1)
}

func TestCascadeRejectionGrowsWithSections(t *testing.T) {
	const at = 3000.0
	prev := 0.0
	for n := 1; n <= 4; n++ {
		c := dsp.NewCascadedBandpassFilter(n, 2025, 2395, rate)
		db := c.MagnitudeResponseDB(at)
		assert.Less(t, db, prev, "cascade of %d sections should reject more than %d", n, n-1)
		prev = db
	}
}

func TestBandpassResetThenZeroInputIsExactlyZero(t *testing.T) {
	f := dsp.NewBandpassForTones(2125, 2295, 100, rate)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 4096; i++ {
		f.Process(float32(rng.Float64()*2 - 1))
	}
	f.Reset()
	for i := 0; i < 16; i++ {
		require.Zero(t, f.Process(0))
	}
}

func TestCascadeResetThenZeroInputIsExactlyZero(t *testing.T) {
	c := dsp.NewCascadedBandpassForTones(3, 2125, 2295, 100, rate)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 4096; i++ {
		c.Process(float32(rng.Float64()*2 - 1))
	}
	c.Reset()
	for i := 0; i < 16; i++ {
		require.Zero(t, c.Process(0))
	}
}

func TestBandpassRejectsDC(t *testing.T) {
	f := dsp.NewBandpassFilter(2025, 2395, rate)
	var last float64
	for i := 0; i < 48000; i++ {
		last = float64(f.Process(1.0))
	}
	assert.Less(t, math.Abs(last), 1e-3)
}

func TestBandpassPassesInBandToneAndRejectsOutOfBand(t *testing.T) {
	passed := filteredRMS(t, 2210)
	rejected := filteredRMS(t, 5000)
	assert.Greater(t, passed, 0.5, "in-band tone should survive")
	assert.Less(t, rejected, passed/5, "out-of-band tone should be attenuated")
}

func filteredRMS(t *testing.T, freq float64) float64 {
	t.Helper()
	f := dsp.NewCascadedBandpassFilter(2, 2025, 2395, rate)
	out := f.ProcessBlock(tone(freq, 1.0, 9600))
	// Skip the transient head before measuring.
	sum := 0.0
	for _, s := range out[4800:] {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(out)-4800))
}
