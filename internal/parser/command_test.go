// internal/parser/command_test.go
package parser

import (
	"bytes"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []byte
	}{
		{
			name:    "plain text passes through",
			command: "AT+RESET",
			want:    []byte("AT+RESET"),
		},
		{
			name:    "hex escape",
			command: `\xDEAD`,
			want:    []byte{0xDE, 0xAD},
		},
		{
			name:    "hex escape with spaces",
			command: `\xDE AD BE EF`,
			want:    []byte{0xDE, 0xAD, 0xBE, 0xEF},
		},
		{
			name:    "repeated hex escapes",
			command: `\x01\x02\x03`,
			want:    []byte{0x01, 0x02, 0x03},
		},
		{
			name:    "invalid hex falls back to literal",
			command: `\xZZ`,
			want:    []byte(`\xZZ`),
		},
		{
			name:    "odd length hex falls back to literal",
			command: `\xABC`,
			want:    []byte(`\xABC`),
		},
		{
			name:    "binary escape",
			command: `\b00000001`,
			want:    []byte{0x01},
		},
		{
			name:    "binary escape multiple bytes",
			command: `\b11111111 00000000`,
			want:    []byte{0xFF, 0x00},
		},
		{
			name:    "short binary padded to one byte",
			command: `\b101`,
			want:    []byte{0x05},
		},
		{
			name:    "invalid binary falls back to literal",
			command: `\b012`,
			want:    []byte(`\b012`),
		},
		{
			name:    "empty hex body falls back to empty decode",
			command: `\x`,
			want:    []byte{},
		},
		{
			name:    "empty command",
			command: "",
			want:    []byte(""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeCommand(tt.command)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}
