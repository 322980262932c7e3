// Package transport provides byte-oriented capture and playback ports
// for PCM audio. Two backends are available: "alsa" drives the ALSA
// userspace tools (arecord/aplay) as raw-PCM subprocesses, and
// "portaudio" opens PortAudio streams in-process.
package transport

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
)

// Backend names accepted by OpenCapture and OpenPlayback.
const (
	BackendALSA      = "alsa"
	BackendPortAudio = "portaudio"
)

// Sentinel errors forming the transport error taxonomy. ErrBusy is
// transient and retried in place by callers; ErrDeviceClosed is fatal
// for the device and forces a state transition.
var (
	ErrBusy         = errors.New("transport temporarily unavailable")
	ErrDeviceClosed = errors.New("transport device closed")
)

// IsTransient reports whether err is a retry-in-place condition.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsFatal reports whether err means the device is gone for good.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceClosed)
}

// Params describes how to open a device.
type Params struct {
	Device string           // device name, e.g. "default" or "sysdefault:CARD=system"
	Format pcm.StreamFormat // sample layout and stream geometry
}

// Capture is a readable PCM port. Read blocks until one full period of
// raw bytes is available.
type Capture interface {
	Read() ([]byte, error)
	Close() error
}

// Playback is a writable PCM port. Write returns the number of bytes
// accepted; the buffer-full condition is surfaced as ErrBusy.
type Playback interface {
	Write(p []byte) (int, error)
	Close() error
}

// OpenCapture opens a capture port on the named backend.
func OpenCapture(backend string, p Params) (Capture, error) {
	switch backend {
	case BackendALSA, "":
		return openALSACapture(p)
	case BackendPortAudio:
		return openPortAudioCapture(p)
	}
	return nil, fmt.Errorf("unknown transport backend %q", backend)
}

// OpenPlayback opens a playback port on the named backend.
func OpenPlayback(backend string, p Params) (Playback, error) {
	switch backend {
	case BackendALSA, "":
		return openALSAPlayback(p)
	case BackendPortAudio:
		return openPortAudioPlayback(p)
	}
	return nil, fmt.Errorf("unknown transport backend %q", backend)
}
