// Package scanner peeks into JSON payloads without decoding them. It is used to
// route a message to the right decoder before paying for a full unmarshal.
package scanner

import "bytes"

// StringField returns the raw string value of the first occurrence of key.
// key must include its quotes, e.g. []byte(`"e"`).
func StringField(payload []byte, key []byte) ([]byte, bool) {
	i, ok := valueStart(payload, key)
	if !ok || payload[i] != '"' {
		return nil, false
	}
	i++
	end := bytes.IndexByte(payload[i:], '"')
	if end < 0 {
		return nil, false
	}
	return payload[i : i+end], true
}

// UintField returns the unsigned integer value of the first occurrence of key.
func UintField(payload []byte, key []byte) (uint64, bool) {
	i, ok := valueStart(payload, key)
	if !ok || !isDigit(payload[i]) {
		return 0, false
	}
	var v uint64
	for ; i < len(payload) && isDigit(payload[i]); i++ {
		v = v*10 + uint64(payload[i]-'0')
	}
	return v, true
}

// HasKey reports whether the payload contains key followed by a colon.
func HasKey(payload []byte, key []byte) bool {
	_, ok := valueStart(payload, key)
	return ok
}

// FirstByte returns the first non-space byte of the payload.
func FirstByte(payload []byte) (byte, bool) {
	for _, b := range payload {
		if !IsSpace(b) {
			return b, true
		}
	}
	return 0, false
}

// Trim strips surrounding JSON whitespace.
func Trim(payload []byte) []byte {
	return bytes.TrimFunc(payload, func(r rune) bool { return r < 0x80 && IsSpace(byte(r)) })
}

func IsSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// valueStart finds key and returns the index of the first byte after its colon.
func valueStart(payload []byte, key []byte) (int, bool) {
	if len(key) == 0 {
		return 0, false
	}
	from := 0
	for from < len(payload) {
		idx := bytes.Index(payload[from:], key)
		if idx < 0 {
			return 0, false
		}
		i := from + idx + len(key)
		for i < len(payload) && IsSpace(payload[i]) {
			i++
		}
		if i < len(payload) && payload[i] == ':' {
			i++
			for i < len(payload) && IsSpace(payload[i]) {
				i++
			}
			if i < len(payload) {
				return i, true
			}
			return 0, false
		}
		from = from + idx + 1
	}
	return 0, false
}
