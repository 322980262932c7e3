// Package pcm provides raw PCM stream format descriptors and a frame
// decoder that handles arbitrary sample widths, signedness, and byte
// order, including 3-byte samples with no native integer type.
package pcm

import (
	"encoding/binary"
	"fmt"
	"regexp"
)

// DefaultFormat is used when a format string fails to parse.
const DefaultFormat = "S16_LE"

// formatPattern matches ALSA-style sample format names such as
// S16_LE, U8, S24_BE, or the long form PCM_FORMAT_S32_LE.
var formatPattern = regexp.MustCompile(`(S|U)(8|16|24|32)_?(LE|BE)?$`)

// Endianness is the byte order of multi-byte samples.
type Endianness string

// Byte orders. Single-byte formats carry no byte order.
const (
	LittleEndian Endianness = "LE"
	BigEndian    Endianness = "BE"
	NoEndian     Endianness = ""
)

// StreamFormat describes the wire layout of one PCM stream. It is
// immutable after construction.
type StreamFormat struct {
	Name      string     // canonical format name, e.g. "S16_LE"
	Width     int        // bytes per sample, 1-4
	Signed    bool       // true for two's-complement samples
	Endian    Endianness // byte order of multi-byte samples
	Channels  int        // samples per frame
	Rate      int        // frames per second
	Period    int        // frames per transport read/write
	MaxAmp    int64      // largest representable amplitude
	Reference int64      // sample value that represents silence
}

// ParseFormat builds a StreamFormat from an ALSA-style format name and
// the stream geometry. An unrecognized format name is not fatal: the
// descriptor falls back to S16_LE and the error reports the rejected
// input so callers can log a warning.
func ParseFormat(name string, channels, rate, periodFrames int) (StreamFormat, error) {
	if channels < 1 {
		return StreamFormat{}, fmt.Errorf("invalid channel count %d", channels)
	}
	if rate <= 0 {
		return StreamFormat{}, fmt.Errorf("invalid frame rate %d", rate)
	}
	if periodFrames < 1 {
		return StreamFormat{}, fmt.Errorf("invalid period size %d", periodFrames)
	}

	var parseErr error
	m := formatPattern.FindStringSubmatch(name)
	if m == nil {
		parseErr = fmt.Errorf("unrecognized sample format %q, falling back to %s", name, DefaultFormat)
		m = formatPattern.FindStringSubmatch(DefaultFormat)
	}

	signed := m[1] == "S"
	bits := atoi(m[2])
	endian := Endianness(m[3])

	canonical := m[1] + m[2]
	if endian != NoEndian {
		canonical += "_" + string(endian)
	}

	maxAmp := int64(1) << (bits - 1)
	reference := int64(0)
	if !signed {
		reference = maxAmp
	}

	return StreamFormat{
		Name:      canonical,
		Width:     bits / 8,
		Signed:    signed,
		Endian:    endian,
		Channels:  channels,
		Rate:      rate,
		Period:    periodFrames,
		MaxAmp:    maxAmp,
		Reference: reference,
	}, parseErr
}

// atoi converts the digits matched by formatPattern. The pattern only
// admits 8/16/24/32, so no error path is needed.
func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// FrameSize returns the number of bytes one multi-channel frame occupies.
func (f StreamFormat) FrameSize() int {
	return f.Width * f.Channels
}

// PeriodBytes returns the number of bytes in one transport period.
func (f StreamFormat) PeriodBytes() int {
	return f.FrameSize() * f.Period
}

// PeriodDuration returns the wall-clock time one period spans in seconds.
func (f StreamFormat) PeriodDuration() float64 {
	return float64(f.Period) / float64(f.Rate)
}

// byteOrder returns the binary.ByteOrder for multi-byte interpretation.
// Single-byte formats default to little-endian, which is a no-op there.
func (f StreamFormat) byteOrder() binary.ByteOrder {
	if f.Endian == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
