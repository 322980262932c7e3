package pcm

import (
	"testing"
)

func mustFormat(t *testing.T, name string, channels int) StreamFormat {
	t.Helper()
	f, err := ParseFormat(name, channels, 48000, 1024)
	if err != nil {
		t.Fatalf("ParseFormat(%q): %v", name, err)
	}
	return f
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		canonical string
		width     int
		signed    bool
		endian    Endianness
		maxAmp    int64
		reference int64
	}{
		{"signed 16 LE", "S16_LE", "S16_LE", 2, true, LittleEndian, 32768, 0},
		{"signed 24 BE", "S24_BE", "S24_BE", 3, true, BigEndian, 8388608, 0},
		{"signed 32 LE", "S32_LE", "S32_LE", 4, true, LittleEndian, 2147483648, 0},
		{"unsigned 8", "U8", "U8", 1, false, NoEndian, 128, 128},
		{"unsigned 16 LE", "U16_LE", "U16_LE", 2, false, LittleEndian, 32768, 32768},
		{"long form", "PCM_FORMAT_S32_LE", "S32_LE", 4, true, LittleEndian, 2147483648, 0},
		{"no underscore", "S16LE", "S16_LE", 2, true, LittleEndian, 32768, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFormat(tt.input, 2, 48000, 1024)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Name != tt.canonical {
				t.Errorf("Name = %q, want %q", f.Name, tt.canonical)
			}
			if f.Width != tt.width {
				t.Errorf("Width = %d, want %d", f.Width, tt.width)
			}
			if f.Signed != tt.signed {
				t.Errorf("Signed = %v, want %v", f.Signed, tt.signed)
			}
			if f.Endian != tt.endian {
				t.Errorf("Endian = %q, want %q", f.Endian, tt.endian)
			}
			if f.MaxAmp != tt.maxAmp {
				t.Errorf("MaxAmp = %d, want %d", f.MaxAmp, tt.maxAmp)
			}
			if f.Reference != tt.reference {
				t.Errorf("Reference = %d, want %d", f.Reference, tt.reference)
			}
		})
	}
}

func TestParseFormatFallback(t *testing.T) {
	f, err := ParseFormat("FLOAT_LE", 2, 48000, 1024)
	if err == nil {
		t.Fatal("expected a fallback error for an unrecognized format")
	}
	if f.Name != DefaultFormat {
		t.Errorf("fallback Name = %q, want %q", f.Name, DefaultFormat)
	}
	if f.Width != 2 || !f.Signed {
		t.Errorf("fallback descriptor = %+v, want S16_LE layout", f)
	}
}

func TestParseFormatBadGeometry(t *testing.T) {
	tests := []struct {
		name                   string
		channels, rate, period int
	}{
		{"zero channels", 0, 48000, 1024},
		{"zero rate", 2, 0, 1024},
		{"zero period", 2, 48000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFormat("S16_LE", tt.channels, tt.rate, tt.period); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFormatGeometry(t *testing.T) {
	f := mustFormat(t, "S24_LE", 2)
	if got := f.FrameSize(); got != 6 {
		t.Errorf("FrameSize = %d, want 6", got)
	}
	if got := f.PeriodBytes(); got != 6*1024 {
		t.Errorf("PeriodBytes = %d, want %d", got, 6*1024)
	}
	if got := f.PeriodDuration(); got != 1024.0/48000.0 {
		t.Errorf("PeriodDuration = %v, want %v", got, 1024.0/48000.0)
	}
}

func TestDecodeSamples(t *testing.T) {
	tests := []struct {
		name   string
		format string
		buf    []byte
		want   []int64
	}{
		{"S8", "S8", []byte{0x00, 0x7F, 0x80, 0xFF}, []int64{0, 127, -128, -1}},
		{"U8", "U8", []byte{0x00, 0x80, 0xFF}, []int64{0, 128, 255}},
		{"S16_LE", "S16_LE", []byte{0x34, 0x12, 0xFF, 0xFF}, []int64{0x1234, -1}},
		{"S16_BE", "S16_BE", []byte{0x12, 0x34, 0x80, 0x00}, []int64{0x1234, -32768}},
		{"U16_LE", "U16_LE", []byte{0xFF, 0xFF}, []int64{65535}},
		{"S24_LE positive max", "S24_LE", []byte{0xFF, 0xFF, 0x7F}, []int64{8388607}},
		{"S24_LE negative one", "S24_LE", []byte{0xFF, 0xFF, 0xFF}, []int64{-1}},
		{"S24_LE negative min", "S24_LE", []byte{0x00, 0x00, 0x80}, []int64{-8388608}},
		{"S24_BE", "S24_BE", []byte{0x80, 0x00, 0x00, 0x7F, 0xFF, 0xFF}, []int64{-8388608, 8388607}},
		{"U24_LE", "U24_LE", []byte{0xFF, 0xFF, 0xFF}, []int64{16777215}},
		{"S32_LE", "S32_LE", []byte{0x00, 0x00, 0x00, 0x80}, []int64{-2147483648}},
		{"U32_BE", "U32_BE", []byte{0xFF, 0xFF, 0xFF, 0xFF}, []int64{4294967295}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFormat(t, tt.format, 1)
			dec := NewDecoder(tt.buf, f)
			var got []int64
			for dec.Next() {
				got = append(got, dec.Frame()[0])
			}
			if len(got) != len(tt.want) {
				t.Fatalf("decoded %d samples, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeMultiChannel(t *testing.T) {
	f := mustFormat(t, "S16_LE", 2)
	buf := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}

	dec := NewDecoder(buf, f)
	if !dec.Next() {
		t.Fatal("first frame missing")
	}
	frame := dec.Frame()
	if frame[0] != 1 || frame[1] != 2 {
		t.Errorf("frame 1 = %v, want [1 2]", frame)
	}
	if !dec.Next() {
		t.Fatal("second frame missing")
	}
	frame = dec.Frame()
	if frame[0] != 3 || frame[1] != 4 {
		t.Errorf("frame 2 = %v, want [3 4]", frame)
	}
	if dec.Next() {
		t.Error("expected end of buffer")
	}
}

func TestDecodeTruncatedTail(t *testing.T) {
	f := mustFormat(t, "S16_LE", 2)
	// One full frame plus three stray bytes.
	buf := []byte{0x01, 0x00, 0x02, 0x00, 0xAA, 0xBB, 0xCC}

	dec := NewDecoder(buf, f)
	n := 0
	for dec.Next() {
		n++
	}
	if n != 1 {
		t.Errorf("decoded %d frames, want 1", n)
	}
}

func TestDecoderReset(t *testing.T) {
	f := mustFormat(t, "S16_LE", 1)
	buf := []byte{0x07, 0x00, 0x08, 0x00}

	dec := NewDecoder(buf, f)
	for dec.Next() {
	}
	dec.Reset()
	if !dec.Next() {
		t.Fatal("no frame after Reset")
	}
	if dec.Frame()[0] != 7 {
		t.Errorf("first sample after Reset = %d, want 7", dec.Frame()[0])
	}
}
