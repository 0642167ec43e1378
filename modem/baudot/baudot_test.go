package baudot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cwsl/digimodem/modem/baudot"
)

func TestDecodeKnownCodes(t *testing.T) {
	c := baudot.NewCodec()

	r, ok := c.Decode(0x01)
	require.True(t, ok)
	assert.Equal(t, 'E', r)

	r, ok = c.Decode(0x10)
	require.True(t, ok)
	assert.Equal(t, 'T', r)

	r, ok = c.Decode(0x04)
	require.True(t, ok)
	assert.Equal(t, ' ', r)
}

func TestDecodeMasksToFiveBits(t *testing.T) {
	c := baudot.NewCodec()
	r, ok := c.Decode(0x21) // 0x21 & 0x1F == 0x01 == 'E'
	require.True(t, ok)
	assert.Equal(t, 'E', r)
}

func TestShiftCodesToggleStateWithoutOutput(t *testing.T) {
	c := baudot.NewCodec()
	assert.Equal(t, baudot.Letters, c.Shift())

	_, ok := c.Decode(baudot.CodeFigures)
	assert.False(t, ok)
	assert.Equal(t, baudot.Figures, c.Shift())

	r, ok := c.Decode(0x01)
	require.True(t, ok)
	assert.Equal(t, '3', r, "code 0x01 should read from the figures table after FIGS")

	_, ok = c.Decode(baudot.CodeLetters)
	assert.False(t, ok)
	assert.Equal(t, baudot.Letters, c.Shift())
}

func TestDecodeUndefinedCodeProducesNothing(t *testing.T) {
	c := baudot.NewCodec()
	_, ok := c.Decode(0x00) // NUL
	assert.False(t, ok)
}

func TestEncodeEmitsShiftCodesOnDemand(t *testing.T) {
	c := baudot.NewCodec()

	codes := c.Encode('A')
	assert.Equal(t, []byte{0x03}, codes, "letters character in letters shift is one code")

	codes = c.Encode('3')
	require.Len(t, codes, 2, "figures character needs a FIGS prefix")
	assert.Equal(t, baudot.CodeFigures, codes[0])
	assert.Equal(t, byte(0x01), codes[1])
	assert.Equal(t, baudot.Figures, c.Shift())

	codes = c.Encode('7')
	assert.Len(t, codes, 1, "already in figures, no second shift code")
}

func TestEncodeUnsupportedCharacterBecomesSpace(t *testing.T) {
	c := baudot.NewCodec()
	codes := c.Encode('~')
	require.Len(t, codes, 1)
	r, ok := baudot.NewCodec().Decode(codes[0])
	require.True(t, ok)
	assert.Equal(t, ' ', r)
}

func TestEncodeIsLowercaseInsensitive(t *testing.T) {
	upper := baudot.NewCodec().EncodeString("CQ DE W1AW")
	lower := baudot.NewCodec().EncodeString("cq de w1aw")
	assert.Equal(t, upper, lower)
}

func TestEncodeWithPreamble(t *testing.T) {
	c := baudot.NewCodec()
	codes := c.EncodeWithPreamble("E", 3)
	require.Len(t, codes, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, baudot.CodeLetters, codes[i])
	}
	assert.Equal(t, byte(0x01), codes[3])
}

func TestRoundTripMixedShifts(t *testing.T) {
	enc := baudot.NewCodec()
	dec := baudot.NewCodec()
	const text = "CQ CQ DE W1AW 599 73?"
	got := dec.DecodeAll(enc.EncodeString(text))
	assert.Equal(t, text, got)
}

func TestRoundTripProperty(t *testing.T) {
	alphabet := baudot.Alphabet()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(t, "len")
		text := make([]rune, n)
		for i := range text {
			text[i] = rapid.SampledFrom(alphabet).Draw(t, "ch")
		}

		enc := baudot.NewCodec()
		dec := baudot.NewCodec()
		got := dec.DecodeAll(enc.EncodeString(string(text)))
		if got != string(text) {
			t.Fatalf("round trip mismatch: %q -> %q", string(text), got)
		}
	})
}

func TestSupported(t *testing.T) {
	assert.True(t, baudot.Supported('A'))
	assert.True(t, baudot.Supported('z'))
	assert.True(t, baudot.Supported('?'))
	assert.False(t, baudot.Supported('~'))
	assert.False(t, baudot.Supported('{'))
}
