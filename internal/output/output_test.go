package output

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Version string `json:"version" yaml:"version"`
	Size    int64  `json:"size" yaml:"size"`
}

func (s sample) String() string { return "sample " + s.Version }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrite(t *testing.T) {
	v := sample{Version: "1.2.0", Size: 42}

	tests := []struct {
		format Format
		want   string
	}{
		{FormatText, "sample 1.2.0\n"},
		{FormatJSON, "{\n  \"version\": \"1.2.0\",\n  \"size\": 42\n}\n"},
		{FormatYAML, "version: 1.2.0\nsize: 42\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewWriter(&buf, tt.format).Write(v); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("Write() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FormatText)
	if w.Structured() {
		t.Error("text writer should not be structured")
	}

	err := w.Table([]string{"VERSION", "SIZE"}, [][]string{{"1.0", "10 B"}, {"10.0.1", "2.0 kB"}})
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "10.0.1  ") {
		t.Errorf("columns not aligned: %q", lines[2])
	}
	if strings.Index(lines[0], "SIZE") != strings.Index(lines[1], "10 B") {
		t.Errorf("size column misaligned:\n%s", buf.String())
	}
}
