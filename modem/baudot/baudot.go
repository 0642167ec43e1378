// Package baudot implements the ITA2 5-bit teleprinter alphabet used
// by RTTY, including the letters/figures shift state machine. The
// tables are the US-TTY variant (BEL $ # ' " ; differ from CCITT
// ITA2).
package baudot

import "strings"

// Shift selects which half of the ITA2 alphabet is active.
type Shift int

const (
	// Letters is the initial shift state of every codec.
	Letters Shift = iota
	Figures
)

func (s Shift) String() string {
	if s == Figures {
		return "figures"
	}
	return "letters"
}

const (
	// CodeLetters switches the decoder to the letters table.
	CodeLetters byte = 0x1F
	// CodeFigures switches the decoder to the figures table.
	CodeFigures byte = 0x1B

	codeSpace byte = 0x04
	codeMask  byte = 0x1F
)

// Character tables indexed by 5-bit code. Zero entries are undefined
// (NUL and the two shift codes, which are handled before lookup).
var ltrsTable = [32]rune{
	0, 'E', '\n', 'A', ' ', 'S', 'I', 'U', '\r', 'D', 'R', 'J', 'N', 'F', 'C', 'K',
	'T', 'Z', 'L', 'W', 'H', 'Y', 'P', 'Q', 'O', 'B', 'G', 0, 'M', 'X', 'V', 0,
}

var figsTable = [32]rune{
	0, '3', '\n', '-', ' ', '\a', '8', '7', '\r', '$', '4', '\'', ',', '!', ':', '(',
	'5', '"', ')', '2', '#', '6', '0', '1', '9', '?', '&', 0, '.', '/', ';', 0,
}

var (
	ltrsCode map[rune]byte
	figsCode map[rune]byte
)

func init() {
	ltrsCode = make(map[rune]byte, 32)
	figsCode = make(map[rune]byte, 32)
	for code := byte(0); code < 32; code++ {
		if r := ltrsTable[code]; r != 0 {
			ltrsCode[r] = code
		}
		if r := figsTable[code]; r != 0 {
			figsCode[r] = code
		}
	}
}

// Codec converts between ITA2 codes and text. The shift state is part
// of the codec, so the encode and decode sides of a link need separate
// instances. A fresh codec starts in letters shift.
type Codec struct {
	shift Shift
}

// NewCodec returns a codec in letters shift.
func NewCodec() *Codec {
	return &Codec{}
}

// Decode maps one 5-bit code to a character. The two shift codes flip
// the codec state and produce no character; NUL and undefined codes
// produce no character either. Codes are masked to 5 bits first.
func (c *Codec) Decode(code byte) (rune, bool) {
	switch code & codeMask {
	case CodeLetters:
		c.shift = Letters
		return 0, false
	case CodeFigures:
		c.shift = Figures
		return 0, false
	}

	var r rune
	if c.shift == Figures {
		r = figsTable[code&codeMask]
	} else {
		r = ltrsTable[code&codeMask]
	}
	if r == 0 {
		return 0, false
	}
	return r, true
}

// DecodeAll decodes a code sequence into text, carrying shift state
// across the whole sequence.
func (c *Codec) DecodeAll(codes []byte) string {
	var b strings.Builder
	for _, code := range codes {
		if r, ok := c.Decode(code); ok {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Encode maps one character to ITA2 codes. Lowercase letters are
// uppercased first. A character in the inactive shift produces two
// codes (shift, then character); unsupported characters produce the
// space code in the current shift.
func (c *Codec) Encode(r rune) []byte {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}

	if c.shift == Figures {
		if code, ok := figsCode[r]; ok {
			return []byte{code}
		}
		if code, ok := ltrsCode[r]; ok {
			c.shift = Letters
			return []byte{CodeLetters, code}
		}
	} else {
		if code, ok := ltrsCode[r]; ok {
			return []byte{code}
		}
		if code, ok := figsCode[r]; ok {
			c.shift = Figures
			return []byte{CodeFigures, code}
		}
	}
	return []byte{codeSpace}
}

// EncodeString encodes text, carrying shift state across characters.
func (c *Codec) EncodeString(s string) []byte {
	out := make([]byte, 0, len(s)+4)
	for _, r := range s {
		out = append(out, c.Encode(r)...)
	}
	return out
}

// EncodeWithPreamble prepends preambleCount letters-shift codes, the
// conventional way to settle a remote decoder before traffic. The
// preamble leaves this codec in letters shift.
func (c *Codec) EncodeWithPreamble(s string, preambleCount int) []byte {
	out := make([]byte, 0, preambleCount+len(s)+4)
	for i := 0; i < preambleCount; i++ {
		out = append(out, CodeLetters)
	}
	c.shift = Letters
	return append(out, c.EncodeString(s)...)
}

// Shift reports the current shift state.
func (c *Codec) Shift() Shift { return c.shift }

// Reset returns the codec to letters shift.
func (c *Codec) Reset() { c.shift = Letters }

// Supported reports whether r (after uppercasing) exists somewhere in
// the ITA2 alphabet.
func Supported(r rune) bool {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	if _, ok := ltrsCode[r]; ok {
		return true
	}
	_, ok := figsCode[r]
	return ok
}

// Alphabet returns every encodable character, letters table first.
// Useful for generating round-trip test input.
func Alphabet() []rune {
	out := make([]rune, 0, 52)
	for _, r := range ltrsTable {
		if r != 0 {
			out = append(out, r)
		}
	}
	for _, r := range figsTable {
		if r == 0 {
			continue
		}
		if _, dup := ltrsCode[r]; !dup {
			out = append(out, r)
		}
	}
	return out
}
