package varicode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cwsl/digimodem/modem/varicode"
)

func TestEncodeKnownCodes(t *testing.T) {
	cases := []struct {
		ch   rune
		bits []byte
	}{
		{' ', []byte{1}},
		{'e', []byte{1, 1}},
		{'t', []byte{1, 0, 1}},
		{'o', []byte{1, 1, 1}},
		{'A', []byte{1, 1, 1, 1, 1, 0, 1}},
	}
	for _, tc := range cases {
		bits, ok := varicode.Encode(tc.ch)
		require.True(t, ok, "%q", tc.ch)
		assert.Equal(t, tc.bits, bits, "%q", tc.ch)
	}
}

func TestEncodeRejectsNonASCII(t *testing.T) {
	_, ok := varicode.Encode('é')
	assert.False(t, ok)
	_, ok = varicode.Encode('→')
	assert.False(t, ok)
}

func TestCodesNeverContainTheGapPattern(t *testing.T) {
	// The structural guarantee behind resynchronization: every code
	// starts and ends with 1 and has no two consecutive zeros inside.
	for ch := rune(0); ch < 128; ch++ {
		bits, ok := varicode.Encode(ch)
		require.True(t, ok)
		require.NotEmpty(t, bits)
		assert.EqualValues(t, 1, bits[0], "char %d starts with 0", ch)
		assert.EqualValues(t, 1, bits[len(bits)-1], "char %d ends with 0", ch)
		for i := 1; i < len(bits); i++ {
			if bits[i-1] == 0 && bits[i] == 0 {
				t.Fatalf("char %d contains two consecutive zeros", ch)
			}
		}
	}
}

func TestCodesAreUnique(t *testing.T) {
	seen := make(map[string]rune, 128)
	for ch := rune(0); ch < 128; ch++ {
		bits, _ := varicode.Encode(ch)
		key := string(bits)
		if prev, dup := seen[key]; dup {
			t.Fatalf("chars %d and %d share a code", prev, ch)
		}
		seen[key] = ch
	}
}

func TestBitLengthIncludesGap(t *testing.T) {
	assert.Equal(t, 3, varicode.BitLength(' '))  // "1" + gap
	assert.Equal(t, 4, varicode.BitLength('e'))  // "11" + gap
	assert.Equal(t, 0, varicode.BitLength('é'))
	assert.Equal(t, varicode.BitLengthString("et"), varicode.BitLength('e')+varicode.BitLength('t'))
}

func TestEncodeStringMatchesBitLength(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 60).Draw(t, "len")
		runes := make([]rune, n)
		for i := range runes {
			runes[i] = rune(rapid.IntRange(32, 126).Draw(t, "ch"))
		}
		text := string(runes)
		if got, want := len(varicode.EncodeString(text)), varicode.BitLengthString(text); got != want {
			t.Fatalf("bit stream length %d, BitLengthString %d", got, want)
		}
	})
}

func TestDecoderRoundTrip(t *testing.T) {
	const text = "CQ CQ de W1AW pse k"
	d := varicode.NewDecoder()
	assert.Equal(t, text, d.DecodeBits(varicode.EncodeString(text)))
}

func TestDecoderRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 80).Draw(t, "len")
		runes := make([]rune, n)
		for i := range runes {
			runes[i] = rune(rapid.IntRange(0, 127).Draw(t, "ch"))
		}
		text := string(runes)

		d := varicode.NewDecoder()
		got := d.DecodeBits(varicode.EncodeString(text))
		if got != text {
			t.Fatalf("round trip mismatch: %q -> %q", text, got)
		}
	})
}

func TestDecoderSkipsLeadingIdle(t *testing.T) {
	d := varicode.NewDecoder()
	bits := varicode.EncodeWithPreamble("test", 37)
	assert.Equal(t, "test", d.DecodeBits(bits))
}

func TestDecoderResynchronizesMidStream(t *testing.T) {
	// Join a stream partway through a character: the damaged first
	// character may be lost or misread, but after the next gap the
	// decoder must track the remainder exactly.
	bits := varicode.EncodeString("Xhello")
	d := varicode.NewDecoder()
	got := d.DecodeBits(bits[3:])
	assert.True(t, len(got) >= 5 && got[len(got)-5:] == "hello",
		"got %q, want a tail of \"hello\"", got)
}

func TestDecoderIgnoresOverlongGarbage(t *testing.T) {
	d := varicode.NewDecoder()
	junk := make([]byte, 64)
	for i := range junk {
		junk[i] = 1
	}
	assert.Empty(t, d.DecodeBits(junk))

	// After the junk, a gap plus a normal character still decodes.
	rest := append([]byte{0, 0}, varicode.EncodeString("k")...)
	assert.Equal(t, "k", d.DecodeBits(rest))
}

func TestDecoderReset(t *testing.T) {
	d := varicode.NewDecoder()
	d.DecodeBit(1)
	d.DecodeBit(1)
	d.Reset()
	// The two ones above would have made 'e'; after Reset they are gone.
	got := d.DecodeBits(varicode.EncodeString("a"))
	assert.Equal(t, "a", got)
}
