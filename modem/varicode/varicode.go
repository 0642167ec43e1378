// Package varicode implements the PSK31 varicode: a variable-length,
// gap-delimited binary alphabet for ASCII. Characters are separated by
// two zero bits; every code starts and ends with 1 and never contains
// two consecutive zeros, so the separator is unambiguous and a
// streaming decoder can resynchronize on it from any starting point.
package varicode

import "strings"

// codes holds the G3PLX varicode table indexed by ASCII value, written
// as bit strings, most significant (first transmitted) bit first.
var codes = [128]string{
	"1010101011", "1011011011", "1011101101", "1101110111", // NUL SOH STX ETX
	"1011101011", "1101011111", "1011101111", "1011111101", // EOT ENQ ACK BEL
	"1011111111", "11101111", "11101", "1101101111", // BS HT LF VT
	"1011011101", "11111", "1101110101", "1110101011", // FF CR SO SI
	"1011110111", "1011110101", "1110101101", "1110101111", // DLE DC1 DC2 DC3
	"1101011011", "1101101011", "1101101101", "1101010111", // DC4 NAK SYN ETB
	"1101111011", "1101111101", "1110110111", "1101010101", // CAN EM SUB ESC
	"1101011101", "1110111011", "1011111011", "1101111111", // FS GS RS US
	"1", "111111111", "101011111", "111110101", // SP ! " #
	"111011011", "1011010101", "1010111011", "101111111", // $ % & '
	"11111011", "11110111", "101101111", "111011111", // ( ) * +
	"1110101", "110101", "1010111", "110101111", // , - . /
	"10110111", "10111101", "11101101", "11111111", // 0 1 2 3
	"101110111", "101011011", "101101011", "110101101", // 4 5 6 7
	"110101011", "110110111", "11110101", "110111101", // 8 9 : ;
	"111101101", "1010101", "111010111", "1010101111", // < = > ?
	"1010111101", "1111101", "11101011", "10101101", // @ A B C
	"10110101", "1110111", "11011011", "11111101", // D E F G
	"101010101", "1111111", "111111101", "101111101", // H I J K
	"11010111", "10111011", "11011101", "10101011", // L M N O
	"11010101", "111011101", "10101111", "1101111", // P Q R S
	"1101101", "101010111", "110110101", "101011101", // T U V W
	"101110101", "101111011", "1010101101", "111110111", // X Y Z [
	"111101111", "111111011", "1010111111", "101101101", // \ ] ^ _
	"1011011111", "1011", "1011111", "101111", // ` a b c
	"101101", "11", "111101", "1011011", // d e f g
	"101011", "1101", "111101011", "10111111", // h i j k
	"11011", "111011", "1111", "111", // l m n o
	"111111", "110111111", "10101", "10111", // p q r s
	"101", "110111", "1111011", "1101011", // t u v w
	"11011111", "1011101", "111010101", "1010110111", // x y z {
	"110111011", "1010110101", "1011010111", "1110110101", // | } ~ DEL
}

// gapBits is the inter-character separator length.
const gapBits = 2

// maxCodeBits bounds valid code lengths; longer accumulations are
// garbage awaiting the next gap.
const maxCodeBits = 10

// reverse maps a code's bit pattern, read as an integer with the first
// bit most significant, back to its character. Codes always start with
// 1 so the integer value determines the length unambiguously.
var reverse map[uint32]rune

// bitCache holds each code as 0/1 bytes ready for concatenation.
var bitCache [128][]byte

func init() {
	reverse = make(map[uint32]rune, 128)
	for ch, code := range codes {
		var v uint32
		bits := make([]byte, len(code))
		for i := 0; i < len(code); i++ {
			v <<= 1
			if code[i] == '1' {
				v |= 1
				bits[i] = 1
			}
		}
		reverse[v] = rune(ch)
		bitCache[ch] = bits
	}
}

// Encode returns the bit sequence for one character, without the gap.
// Non-ASCII input returns nil and false.
func Encode(r rune) ([]byte, bool) {
	if r < 0 || r > 127 {
		return nil, false
	}
	code := bitCache[r]
	out := make([]byte, len(code))
	copy(out, code)
	return out, true
}

// EncodeString returns the bit stream for text: each character's code
// followed by the two-zero gap. Unencodable characters are skipped.
func EncodeString(s string) []byte {
	out := make([]byte, 0, len(s)*8)
	for _, r := range s {
		if r < 0 || r > 127 {
			continue
		}
		out = append(out, bitCache[r]...)
		out = append(out, 0, 0)
	}
	return out
}

// EncodeWithPreamble prepends idleBits zero bits (carrier idle) to the
// encoded text.
func EncodeWithPreamble(s string, idleBits int) []byte {
	out := make([]byte, idleBits, idleBits+len(s)*8)
	return append(out, EncodeString(s)...)
}

// BitLength reports the exact bit cost of transmitting r, including
// the inter-character gap. Unencodable characters cost zero bits.
func BitLength(r rune) int {
	if r < 0 || r > 127 {
		return 0
	}
	return len(bitCache[r]) + gapBits
}

// BitLengthString reports the total bit cost of text.
func BitLengthString(s string) int {
	n := 0
	for _, r := range s {
		n += BitLength(r)
	}
	return n
}

// Decoder is the streaming bit-at-a-time automaton. It accumulates
// bits until it sees the two-zero gap, then looks up the accumulated
// pattern. Leading idle zeros fold away harmlessly because patterns
// are keyed by integer value.
type Decoder struct {
	reg   uint32
	count int
}

// NewDecoder returns a decoder waiting at a character boundary.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// DecodeBit consumes one bit. It returns a character and true exactly
// when a valid code followed by the gap has been observed.
func (d *Decoder) DecodeBit(bit byte) (rune, bool) {
	d.reg = d.reg<<1 | uint32(bit&1)
	d.count++

	if d.count >= gapBits && d.reg&0x3 == 0 {
		code := d.reg >> gapBits
		d.reg, d.count = 0, 0
		if code == 0 {
			return 0, false // idle between characters
		}
		if r, ok := reverse[code]; ok {
			return r, true
		}
		return 0, false // unknown pattern, stay synchronized
	}

	// A run of ones longer than any valid code cannot decode; cap the
	// register so it cannot shift into oblivion before the next gap.
	if d.count > maxCodeBits+gapBits {
		d.count = maxCodeBits + gapBits
		d.reg &= 1<<uint(d.count) - 1
	}
	return 0, false
}

// DecodeBits runs the automaton over a whole buffer.
func (d *Decoder) DecodeBits(bits []byte) string {
	var b strings.Builder
	for _, bit := range bits {
		if r, ok := d.DecodeBit(bit); ok {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Reset returns the decoder to a character boundary.
func (d *Decoder) Reset() {
	d.reg, d.count = 0, 0
}
