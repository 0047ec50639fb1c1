// Package bytecodec converts between the fixed-width ASCII/binary
// representation used on disk and the Go values the rest of the engine
// works with.
//
// Every integer on disk is big-endian, matching the legacy data file format
// this package preserves bit-for-bit (see datafile.Header). Strings are
// fixed-width ASCII, right-padded with NUL or space, and are truncated at
// the first NUL byte on decode.
package bytecodec

import (
	"fmt"
)

// Charset is the only string encoding this codec supports. Any other value
// passed to EncodeString/DecodeString is a fatal configuration error.
const Charset = "US-ASCII"

// EncodeUint1 returns the low byte of v.
func EncodeUint1(v uint32) []byte {
	return []byte{byte(v)}
}

// EncodeUint2 big-endian encodes the low two bytes of v.
func EncodeUint2(v uint32) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// EncodeUint4 big-endian encodes v.
func EncodeUint4(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// DecodeInt reads up to 4 big-endian bytes of b and returns them as a signed
// 32-bit integer, mirroring the legacy decoder's contract: any decode of 4
// or more bytes is returned through a signed int even though the values it
// carries (lengths, counts) are never negative in practice.
func DecodeInt(b []byte) int32 {
	n := len(b)
	if n > 4 {
		n = 4
	}
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<8 | uint32(b[i])
	}
	return int32(v)
}

// EncodeString trims source and returns its raw bytes in charset. EncodeString
// never pads or truncates to a field width; callers copy the result into a
// fixed-width field buffer and are responsible for padding.
func EncodeString(source, charset string) ([]byte, error) {
	if charset != Charset {
		return nil, fmt.Errorf("bytecodec: unsupported charset %q", charset)
	}
	return []byte(trimASCII(source)), nil
}

// DecodeString scans buf[offset:offset+length] for the first NUL byte,
// decodes everything before it, and right-trims the result. If no NUL byte
// is present the full length is decoded.
func DecodeString(buf []byte, offset, length int, charset string) (string, error) {
	if charset != Charset {
		return "", fmt.Errorf("bytecodec: unsupported charset %q", charset)
	}
	window := buf[offset : offset+length]
	end := len(window)
	for i, b := range window {
		if b == 0x00 {
			end = i
			break
		}
	}
	s := window[:end]
	for len(s) > 0 && isSpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return string(s), nil
}

func trimASCII(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == 0x00
}
