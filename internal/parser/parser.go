// internal/parser/parser.go
package parser

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Mode selects how the accumulated byte stream is framed into messages
type Mode string

const (
	ModeText   Mode = "text"
	ModeBinary Mode = "binary"
	ModeHex    Mode = "hex"
	ModeJSON   Mode = "json"
	ModeCustom Mode = "custom"
)

// DefaultMaxBufferSize bounds the accumulation buffer (1 MiB)
const DefaultMaxBufferSize = 1 << 20

// Frame delimiters for binary mode
const (
	stx byte = 0x02
	etx byte = 0x03
)

// Parser is a stateful byte-buffer-to-message decoder. It is owned
// exclusively by one connection's read pump and needs no locking of its own.
// Given the same accumulated buffer and mode, output is deterministic.
type Parser struct {
	mode          Mode
	buffer        []byte
	maxBufferSize int
	customPattern *regexp.Regexp
}

// New creates a parser in text mode with the given buffer bound.
// A non-positive bound falls back to DefaultMaxBufferSize.
func New(maxBufferSize int) *Parser {
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	return &Parser{
		mode:          ModeText,
		maxBufferSize: maxBufferSize,
	}
}

// SetMode changes the framing mode
func (p *Parser) SetMode(mode Mode) error {
	switch mode {
	case ModeText, ModeBinary, ModeHex, ModeJSON, ModeCustom:
		p.mode = mode
		return nil
	default:
		return fmt.Errorf("invalid parser mode: %q", mode)
	}
}

// Mode returns the current framing mode
func (p *Parser) Mode() Mode {
	return p.mode
}

// SetCustomPattern compiles and installs the pattern used by custom mode.
// An invalid pattern is rejected here, never during Process.
func (p *Parser) SetCustomPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid custom pattern: %w", err)
	}
	if re.MatchString("") {
		return fmt.Errorf("custom pattern must not match the empty string")
	}
	p.customPattern = re
	return nil
}

// Process appends data to the internal buffer and returns every complete
// message that can be framed from it. Incomplete trailing data stays
// buffered for the next call.
func (p *Parser) Process(data []byte) []string {
	p.buffer = append(p.buffer, data...)

	// On overflow discard the oldest half; newer bytes are never corrupted.
	for len(p.buffer) > p.maxBufferSize {
		p.buffer = append([]byte(nil), p.buffer[len(p.buffer)/2:]...)
	}

	switch p.mode {
	case ModeBinary:
		return p.processBinary()
	case ModeHex:
		return p.processHex()
	case ModeJSON:
		return p.processJSON()
	case ModeCustom:
		return p.processCustom()
	default:
		return p.processText()
	}
}

// RemainingBuffer returns the bytes not yet forming a complete message
func (p *Parser) RemainingBuffer() []byte {
	return p.buffer
}

// ClearBuffer discards all buffered bytes
func (p *Parser) ClearBuffer() {
	p.buffer = nil
}

// processText splits the buffer on line terminators. \r\n takes priority
// over \n, which takes priority over \r, re-checked on every iteration.
// A \r that ends the buffer stays buffered so a split CRLF reassembles.
func (p *Parser) processText() []string {
	var lines []string

	for {
		if i := bytes.Index(p.buffer, []byte("\r\n")); i >= 0 {
			lines = append(lines, decode(p.buffer[:i]))
			p.buffer = p.buffer[i+2:]
			continue
		}
		if i := bytes.IndexByte(p.buffer, '\n'); i >= 0 {
			lines = append(lines, decode(p.buffer[:i]))
			p.buffer = p.buffer[i+1:]
			continue
		}
		if i := bytes.IndexByte(p.buffer, '\r'); i >= 0 {
			// A \r as the very last byte may be the first half of a CRLF
			// delivered across two reads; hold it until the next chunk.
			if i == len(p.buffer)-1 {
				return lines
			}
			lines = append(lines, decode(p.buffer[:i]))
			p.buffer = p.buffer[i+1:]
			continue
		}
		return lines
	}
}

// processBinary frames STX/ETX delimited packets and renders the payload
// as a hex string. An unterminated frame stays buffered.
func (p *Parser) processBinary() []string {
	var packets []string

	for {
		start := bytes.IndexByte(p.buffer, stx)
		if start < 0 {
			return packets
		}
		end := bytes.IndexByte(p.buffer[start+1:], etx)
		if end < 0 {
			return packets
		}
		end += start + 1

		payload := p.buffer[start+1 : end]
		packets = append(packets, "[BIN] "+hex.EncodeToString(payload))
		p.buffer = p.buffer[end+1:]
	}
}

// processHex delegates to text segmentation and re-encodes each line as
// space-separated hex bytes
func (p *Parser) processHex() []string {
	textLines := p.processText()

	lines := make([]string, 0, len(textLines))
	for _, line := range textLines {
		parts := make([]string, 0, len(line))
		for _, b := range []byte(line) {
			parts = append(parts, fmt.Sprintf("%02X", b))
		}
		lines = append(lines, "[HEX] "+strings.Join(parts, " "))
	}
	return lines
}

// processJSON delegates to text segmentation and pretty-prints lines that
// parse as JSON. A parse failure passes the raw line through unchanged.
func (p *Parser) processJSON() []string {
	textLines := p.processText()

	lines := make([]string, 0, len(textLines))
	for _, line := range textLines {
		var value interface{}
		if err := json.Unmarshal([]byte(line), &value); err != nil {
			lines = append(lines, line)
			continue
		}
		formatted, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			lines = append(lines, line)
			continue
		}
		lines = append(lines, string(formatted))
	}
	return lines
}

// processCustom emits every pattern match and consumes the buffer through
// the end of each match. Non-matching trailing bytes stay buffered. Without
// a configured pattern custom mode behaves like text mode.
func (p *Parser) processCustom() []string {
	if p.customPattern == nil {
		return p.processText()
	}

	var matches []string
	for {
		loc := p.customPattern.FindIndex(p.buffer)
		if loc == nil || loc[1] == loc[0] {
			return matches
		}
		matches = append(matches, decode(p.buffer[loc[0]:loc[1]]))
		p.buffer = p.buffer[loc[1]:]
	}
}

// decode renders bytes as UTF-8 text, substituting the replacement
// character for invalid sequences. Malformed encoding is never an error.
func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune('�')
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}
