// Package codec converts report text between UTF-8 and the single-byte
// Cyrillic encoding used by the accounting backend.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrUndefinedByte is returned for input containing a byte CP1251 leaves
// unassigned (0x98). Such text could never be encoded back.
var ErrUndefinedByte = errors.New("byte undefined in cp1251")

// DecodeCP1251 converts CP1251 bytes to a UTF-8 string. The result always
// encodes back to the same bytes.
func DecodeCP1251(raw []byte) (string, error) {
	out, err := charmap.Windows1251.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode cp1251: %w", err)
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("failed to decode cp1251: %w", ErrUndefinedByte)
	}
	return string(out), nil
}

// EncodeCP1251 converts a UTF-8 string to CP1251 bytes.
// Runes without a CP1251 representation are an error.
func EncodeCP1251(text string) ([]byte, error) {
	out, err := charmap.Windows1251.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode cp1251: %w", err)
	}
	return out, nil
}
