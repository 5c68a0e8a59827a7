// internal/parser/parser_test.go
package parser

import (
	"reflect"
	"strings"
	"testing"
)

func TestProcessText(t *testing.T) {
	tests := []struct {
		name      string
		inputs    []string
		want      []string
		remaining string
	}{
		{
			name:   "single newline terminated line",
			inputs: []string{"hello\n"},
			want:   []string{"hello"},
		},
		{
			name:   "crlf terminated line",
			inputs: []string{"hello\r\n"},
			want:   []string{"hello"},
		},
		{
			name:      "trailing cr held for a possible crlf",
			inputs:    []string{"hello\r"},
			want:      nil,
			remaining: "hello\r",
		},
		{
			name:   "cr terminator emits once more data arrives",
			inputs: []string{"hello\r", "next\n"},
			want:   []string{"hello", "next"},
		},
		{
			name:   "crlf is one terminator not two",
			inputs: []string{"a\r\nb\r\n"},
			want:   []string{"a", "b"},
		},
		{
			name:      "incomplete line stays buffered",
			inputs:    []string{"partial"},
			want:      nil,
			remaining: "partial",
		},
		{
			name:   "line reassembled across chunks",
			inputs: []string{"hel", "lo\nwor", "ld\n"},
			want:   []string{"hello", "world"},
		},
		{
			name:   "crlf split across chunks",
			inputs: []string{"hello\r", "\nnext\n"},
			want:   []string{"hello", "next"},
		},
		{
			name:   "empty lines preserved",
			inputs: []string{"\n\n"},
			want:   []string{"", ""},
		},
		{
			name:      "mixed terminators",
			inputs:    []string{"a\nb\rc\r\nd"},
			want:      []string{"a", "b", "c"},
			remaining: "d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(0)
			var got []string
			for _, chunk := range tt.inputs {
				got = append(got, p.Process([]byte(chunk))...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Process() = %q, want %q", got, tt.want)
			}
			if string(p.RemainingBuffer()) != tt.remaining {
				t.Errorf("RemainingBuffer() = %q, want %q", p.RemainingBuffer(), tt.remaining)
			}
		})
	}
}

func TestProcessTextSplitAnywhere(t *testing.T) {
	const stream = "AT+GMR\r\nOK\r\n"
	want := []string{"AT+GMR", "OK"}

	for split := 0; split <= len(stream); split++ {
		p := New(0)
		got := p.Process([]byte(stream[:split]))
		got = append(got, p.Process([]byte(stream[split:]))...)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("split at %d: Process() = %q, want %q", split, got, want)
		}
		if len(p.RemainingBuffer()) != 0 {
			t.Errorf("split at %d: RemainingBuffer() = %q, want empty", split, p.RemainingBuffer())
		}
	}
}

func TestProcessTextInvalidUTF8(t *testing.T) {
	p := New(0)
	got := p.Process([]byte{0xFF, 0xFE, 'o', 'k', '\n'})
	want := []string{"��ok"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Process() = %q, want %q", got, want)
	}
}

func TestProcessBinary(t *testing.T) {
	tests := []struct {
		name   string
		inputs [][]byte
		want   []string
	}{
		{
			name:   "single framed packet",
			inputs: [][]byte{{0x02, 0xDE, 0xAD, 0xBE, 0xEF, 0x03}},
			want:   []string{"[BIN] deadbeef"},
		},
		{
			name:   "noise before frame discarded on next frame",
			inputs: [][]byte{{0x41, 0x42, 0x02, 0x01, 0x03}},
			want:   []string{"[BIN] 01"},
		},
		{
			name:   "frame split across chunks",
			inputs: [][]byte{{0x02, 0xAA}, {0xBB, 0x03}},
			want:   []string{"[BIN] aabb"},
		},
		{
			name:   "two frames in one chunk",
			inputs: [][]byte{{0x02, 0x01, 0x03, 0x02, 0x02, 0x03}},
			want:   []string{"[BIN] 01", "[BIN] 02"},
		},
		{
			name:   "unterminated frame buffered",
			inputs: [][]byte{{0x02, 0x01, 0x02}},
			want:   nil,
		},
		{
			name:   "empty payload",
			inputs: [][]byte{{0x02, 0x03}},
			want:   []string{"[BIN] "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(0)
			if err := p.SetMode(ModeBinary); err != nil {
				t.Fatalf("SetMode() error = %v", err)
			}
			var got []string
			for _, chunk := range tt.inputs {
				got = append(got, p.Process(chunk)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Process() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessHex(t *testing.T) {
	p := New(0)
	if err := p.SetMode(ModeHex); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	got := p.Process([]byte("AB\n"))
	want := []string{"[HEX] 41 42"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Process() = %q, want %q", got, want)
	}

	got = p.Process([]byte("\n"))
	want = []string{"[HEX] "}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Process() empty line = %q, want %q", got, want)
	}
}

func TestProcessJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "valid object pretty printed",
			input: `{"a":1}` + "\n",
			want:  []string{"{\n  \"a\": 1\n}"},
		},
		{
			name:  "invalid json passed through",
			input: "not json\n",
			want:  []string{"not json"},
		},
		{
			name:  "bare number is valid json",
			input: "42\n",
			want:  []string{"42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(0)
			if err := p.SetMode(ModeJSON); err != nil {
				t.Fatalf("SetMode() error = %v", err)
			}
			got := p.Process([]byte(tt.input))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Process() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessCustom(t *testing.T) {
	p := New(0)
	if err := p.SetMode(ModeCustom); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if err := p.SetCustomPattern(`T=\d+`); err != nil {
		t.Fatalf("SetCustomPattern() error = %v", err)
	}

	got := p.Process([]byte("noise T=21 more T="))
	want := []string{"T=21"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Process() = %q, want %q", got, want)
	}

	// The partial trailing match completes with the next chunk.
	got = p.Process([]byte("22"))
	want = []string{"T=22"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Process() continuation = %q, want %q", got, want)
	}
}

func TestProcessCustomWithoutPattern(t *testing.T) {
	p := New(0)
	if err := p.SetMode(ModeCustom); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	got := p.Process([]byte("fallback\n"))
	want := []string{"fallback"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Process() = %q, want %q", got, want)
	}
}

func TestSetCustomPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"valid pattern", `\d+`, false},
		{"unbalanced paren", `(\d+`, true},
		{"matches empty string", `a*`, true},
		{"empty pattern", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(0)
			err := p.SetCustomPattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("SetCustomPattern(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
		})
	}
}

func TestSetMode(t *testing.T) {
	p := New(0)
	if err := p.SetMode("bogus"); err == nil {
		t.Error("SetMode(bogus) expected error")
	}
	if p.Mode() != ModeText {
		t.Errorf("Mode() after rejected SetMode = %q, want %q", p.Mode(), ModeText)
	}
}

func TestBufferOverflowDropsOldestHalf(t *testing.T) {
	p := New(16)

	// Fill with data that never frames, then confirm the newest bytes survive.
	p.Process([]byte(strings.Repeat("a", 16)))
	p.Process([]byte("bbbbbbbb"))

	remaining := string(p.RemainingBuffer())
	if len(remaining) > 16 {
		t.Fatalf("buffer grew past bound: %d bytes", len(remaining))
	}
	if !strings.HasSuffix(remaining, "bbbbbbbb") {
		t.Errorf("newest bytes lost on overflow: %q", remaining)
	}
}

func TestClearBuffer(t *testing.T) {
	p := New(0)
	p.Process([]byte("partial"))
	p.ClearBuffer()
	if len(p.RemainingBuffer()) != 0 {
		t.Errorf("RemainingBuffer() after ClearBuffer = %q, want empty", p.RemainingBuffer())
	}
}
