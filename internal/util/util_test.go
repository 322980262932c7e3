package util

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWrapError(t *testing.T) {
	base := errors.New("boom")
	wrapped := WrapError("open device", base)
	if wrapped == nil {
		t.Fatal("WrapError returned nil for a real error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error lost the cause")
	}
	if got := wrapped.Error(); got != "failed to open device: boom" {
		t.Errorf("message = %q", got)
	}
	if WrapError("anything", nil) != nil {
		t.Error("WrapError(nil) should stay nil")
	}
}

func TestExtractLastError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{"empty", "", ""},
		{"whitespace only", "  \n\t\n", ""},
		{"single line", "arecord: main:831: audio open error: No such device", "arecord: main:831: audio open error: No such device"},
		{"last meaningful line", "Recording raw data\nsome noise\narecord: pcm_read:2221: read error", "arecord: pcm_read:2221: read error"},
		{"trailing blank lines", "device busy\n\n\n", "device busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractLastError(tt.stderr); got != tt.want {
				t.Errorf("ExtractLastError = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractLastErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := ExtractLastError(long)
	if len(got) != maxErrorLineLength+3 {
		t.Errorf("len = %d, want %d", len(got), maxErrorLineLength+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated line missing ellipsis: %q", got)
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // capped
		10 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}
	if got := b.Attempts(); got != len(want) {
		t.Errorf("Attempts = %d, want %d", got, len(want))
	}

	b.Reset()
	if got := b.Current(); got != time.Second {
		t.Errorf("Current after Reset = %v, want 1s", got)
	}
	if got := b.Attempts(); got != 0 {
		t.Errorf("Attempts after Reset = %d, want 0", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0s"},
		{45_000, "45s"},
		{154_000, "2m 34s"},
		{3_600_000, "1h 0m"},
		{4_980_000, "1h 23m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestFormatHumanTime(t *testing.T) {
	if got := FormatHumanTime(""); got != "unknown" {
		t.Errorf("empty input = %q, want unknown", got)
	}
	if got := FormatHumanTime("unknown"); got != "unknown" {
		t.Errorf("unknown input = %q, want unknown", got)
	}
	if got := FormatHumanTime("garbage"); got != "garbage" {
		t.Errorf("unparsable input = %q, want passthrough", got)
	}
	got := FormatHumanTime("2026-08-28T12:34:56Z")
	if got == "unknown" || got == "" {
		t.Errorf("valid RFC3339 input = %q", got)
	}
}

func TestCheckPathWritable(t *testing.T) {
	if err := CheckPathWritable(t.TempDir()); err != nil {
		t.Errorf("writable dir rejected: %v", err)
	}
	// Missing directories are created on the fly.
	if err := CheckPathWritable(filepath.Join(t.TempDir(), "nested", "logs")); err != nil {
		t.Errorf("nested dir rejected: %v", err)
	}
}

func TestIsConfigured(t *testing.T) {
	if !IsConfigured("a", "b", "c") {
		t.Error("all set should be configured")
	}
	if IsConfigured("a", "", "c") {
		t.Error("empty value should not be configured")
	}
	if !IsConfigured() {
		t.Error("no values should be vacuously configured")
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("log", "/var/log/loopback"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}
	if err := ValidatePath("log", ""); err == nil {
		t.Error("empty path accepted")
	}
	if err := ValidatePath("log", "/var/../etc/passwd"); err == nil {
		t.Error("traversal accepted")
	}
}
