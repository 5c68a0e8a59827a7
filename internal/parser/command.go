// internal/parser/command.go
package parser

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// EncodeCommand converts a command string into the bytes to put on the wire.
// Commands prefixed with `\x` are read as hex digits, commands prefixed with
// `\b` as binary digits; anything else is sent as UTF-8 text. An escape
// prefix with an undecodable body falls back to the literal text form.
func EncodeCommand(command string) []byte {
	switch {
	case strings.HasPrefix(command, `\x`):
		cleaned := strings.ReplaceAll(command, `\x`, "")
		cleaned = strings.ReplaceAll(cleaned, " ", "")
		if decoded, err := hex.DecodeString(cleaned); err == nil {
			return decoded
		}
		return []byte(command)

	case strings.HasPrefix(command, `\b`):
		cleaned := strings.ReplaceAll(command, `\b`, "")
		cleaned = strings.ReplaceAll(cleaned, " ", "")
		if decoded, err := decodeBinaryString(cleaned); err == nil {
			return decoded
		}
		return []byte(command)

	default:
		return []byte(command)
	}
}

// decodeBinaryString packs a string of 0s and 1s into big-endian bytes
func decodeBinaryString(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty binary command")
	}
	value, ok := new(big.Int).SetString(s, 2)
	if !ok {
		return nil, fmt.Errorf("invalid binary command: %q", s)
	}
	size := (len(s) + 7) / 8
	return value.FillBytes(make([]byte, size)), nil
}
