package protocol

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// TruncateErrString cuts s to at most MaxErrStringLen bytes without splitting
// a UTF-8 sequence. Embedded NUL bytes end the string, as they would on the wire.
func TruncateErrString(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	if len(s) <= MaxErrStringLen {
		return s
	}
	cut := MaxErrStringLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// EncodeErrString returns the fixed, NUL-padded wire field for s.
func EncodeErrString(s string) [ErrStringSize]byte {
	var field [ErrStringSize]byte
	copy(field[:], TruncateErrString(s))
	return field
}

// DecodeErrString reads text up to the first NUL. A field with no NUL is taken whole.
func DecodeErrString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
