// Package magnet validates the content addresses the sarafan backend assigns
// to posts. A magnet is the hex encoding of a 32-byte keccak digest.
package magnet

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Length is the number of hex characters in a well-formed magnet.
const Length = 64

const segmentLength = 16

// IsMagnet reports whether value is a 64 character hex string.
func IsMagnet(value string) bool {
	if len(value) != Length {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

// Normalize trims whitespace and lowercases the magnet so it can be compared
// with values produced by the backend.
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Path splits a magnet into four 16 character segments joined by '/', the
// layout the backend uses for content storage.
func Path(value string) (string, error) {
	if !IsMagnet(value) {
		return "", fmt.Errorf("magnet: %q is not a magnet", value)
	}
	parts := make([]string, 0, Length/segmentLength)
	for i := 0; i < Length; i += segmentLength {
		parts = append(parts, value[i:i+segmentLength])
	}
	return strings.Join(parts, "/"), nil
}

// Short returns an abbreviated magnet for display.
func Short(value string) string {
	if len(value) <= segmentLength {
		return value
	}
	return value[:segmentLength] + "…"
}
