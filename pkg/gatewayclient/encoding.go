package gatewayclient

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// encodeRequest renders payload in the Gateway's required 16-bit encoding,
// matching tally_service.py's send_xml which sends content.encode('utf-16').
func encodeRequest(payload string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	return enc.NewEncoder().Bytes([]byte(payload))
}

// decodeResponse tries, in order: 16-bit with BOM (either endianness), then
// plain 16-bit little-endian, then 8-bit UTF-8, then a Latin-1 byte-to-rune
// fallback that always succeeds — the same chain tally_service.py's
// response handling falls through (utf-16, utf-16-le, utf-8, latin-1).
// The BOM-less 16-bit attempt accepts almost any even-length input, so it
// only runs on a body holding a NUL byte, which 16-bit ASCII-range markup
// always does and 8-bit text does not.
func decodeResponse(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	if s, ok := decodeUTF16(body, unicode.BigEndian, unicode.ExpectBOM); ok {
		return s
	}
	if bytes.IndexByte(body, 0) >= 0 {
		if s, ok := decodeUTF16(body, unicode.LittleEndian, unicode.IgnoreBOM); ok {
			return s
		}
	}
	if utf8.Valid(body) {
		return string(body)
	}
	return decodeLatin1(body)
}

func decodeUTF16(body []byte, endian unicode.Endianness, bom unicode.BOMPolicy) (string, bool) {
	dec := unicode.UTF16(endian, bom)
	out, err := dec.NewDecoder().Bytes(body)
	if err != nil || len(out) == 0 {
		return "", false
	}
	if !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// decodeLatin1 maps each input byte directly to the Unicode code point of
// the same value — the final, always-succeeding fallback.
func decodeLatin1(body []byte) string {
	runes := make([]rune, len(body))
	for i, b := range body {
		runes[i] = rune(b)
	}
	return string(runes)
}
