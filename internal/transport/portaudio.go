package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/oszuidwest/zwfm-loopback/internal/pcm"
	"github.com/oszuidwest/zwfm-loopback/internal/util"
)

// paCapture is a blocking PortAudio input stream exposed as a
// byte-oriented capture port.
type paCapture struct {
	stream *portaudio.Stream
	codec  paCodec
}

func openPortAudioCapture(p Params) (Capture, error) {
	codec, err := newPACodec(p.Format)
	if err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, util.WrapError("initialize portaudio", err)
	}

	dev, err := lookupDevice(p.Device, true)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = p.Format.Channels
	params.SampleRate = float64(p.Format.Rate)
	params.FramesPerBuffer = p.Format.Period

	stream, err := portaudio.OpenStream(params, codec.buffer())
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open portaudio capture on %q: %w", p.Device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, util.WrapError("start portaudio capture", err)
	}

	return &paCapture{stream: stream, codec: codec}, nil
}

func (c *paCapture) Read() ([]byte, error) {
	if err := c.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("capture overrun: %w", ErrBusy)
		}
		return nil, fmt.Errorf("portaudio read: %w: %w", ErrDeviceClosed, err)
	}
	return c.codec.encode(), nil
}

func (c *paCapture) Close() error {
	err := c.stream.Close()
	portaudio.Terminate()
	return err
}

// paPlayback is a blocking PortAudio output stream exposed as a
// byte-oriented playback port.
type paPlayback struct {
	stream *portaudio.Stream
	codec  paCodec
}

func openPortAudioPlayback(p Params) (Playback, error) {
	codec, err := newPACodec(p.Format)
	if err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, util.WrapError("initialize portaudio", err)
	}

	dev, err := lookupDevice(p.Device, false)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = p.Format.Channels
	params.SampleRate = float64(p.Format.Rate)
	params.FramesPerBuffer = p.Format.Period

	stream, err := portaudio.OpenStream(params, codec.buffer())
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open portaudio playback on %q: %w", p.Device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		portaudio.Terminate()
		return nil, util.WrapError("start portaudio playback", err)
	}

	return &paPlayback{stream: stream, codec: codec}, nil
}

func (pb *paPlayback) Write(p []byte) (int, error) {
	n := pb.codec.decode(p)
	if err := pb.stream.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			// An underrun glitches but does not invalidate the stream.
			return n, nil
		}
		return 0, fmt.Errorf("portaudio write: %w: %w", ErrDeviceClosed, err)
	}
	return n, nil
}

func (pb *paPlayback) Close() error {
	err := pb.stream.Close()
	portaudio.Terminate()
	return err
}

// lookupDevice resolves a device name to a PortAudio device. Empty or
// "default" selects the host default; otherwise the first device whose
// name contains the given string wins.
func lookupDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	host, err := portaudio.DefaultHostApi()
	if err != nil {
		return nil, util.WrapError("query portaudio host", err)
	}

	if name == "" || name == "default" {
		if input {
			return host.DefaultInputDevice, nil
		}
		return host.DefaultOutputDevice, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, util.WrapError("list portaudio devices", err)
	}
	for _, dev := range devices {
		if !strings.Contains(dev.Name, name) {
			continue
		}
		if input && dev.MaxInputChannels == 0 {
			continue
		}
		if !input && dev.MaxOutputChannels == 0 {
			continue
		}
		return dev, nil
	}
	return nil, fmt.Errorf("no portaudio device matching %q", name)
}

// paCodec moves samples between the PortAudio typed buffer and the raw
// wire layout of the stream format. PortAudio has no packed 24-bit
// buffer type, so 3-byte formats are only available on the ALSA
// backend.
type paCodec struct {
	format pcm.StreamFormat
	i8     []int8
	u8     []uint8
	i16    []int16
	i32    []int32
}

func newPACodec(f pcm.StreamFormat) (paCodec, error) {
	n := f.Period * f.Channels
	c := paCodec{format: f}
	switch f.Width {
	case 1:
		if f.Signed {
			c.i8 = make([]int8, n)
		} else {
			c.u8 = make([]uint8, n)
		}
	case 2:
		c.i16 = make([]int16, n)
	case 4:
		c.i32 = make([]int32, n)
	default:
		return paCodec{}, fmt.Errorf("sample format %s not supported by the portaudio backend", f.Name)
	}
	return c, nil
}

// buffer returns the typed slice pointer PortAudio reads into or
// writes from.
func (c *paCodec) buffer() any {
	switch {
	case c.i8 != nil:
		return &c.i8
	case c.u8 != nil:
		return &c.u8
	case c.i16 != nil:
		return &c.i16
	default:
		return &c.i32
	}
}

// encode serializes the typed buffer into one raw period.
func (c *paCodec) encode() []byte {
	f := c.format
	out := make([]byte, f.PeriodBytes())
	switch f.Width {
	case 1:
		if f.Signed {
			for i, v := range c.i8 {
				out[i] = byte(v)
			}
		} else {
			copy(out, c.u8)
		}
	case 2:
		for i, v := range c.i16 {
			putUint16(out[i*2:], uint16(v), f)
		}
	case 4:
		for i, v := range c.i32 {
			putUint32(out[i*4:], uint32(v), f)
		}
	}
	return out
}

// decode fills the typed buffer from one raw period and returns the
// number of bytes consumed.
func (c *paCodec) decode(p []byte) int {
	f := c.format
	n := min(len(p), f.PeriodBytes())
	switch f.Width {
	case 1:
		if f.Signed {
			for i := 0; i < n; i++ {
				c.i8[i] = int8(p[i])
			}
		} else {
			copy(c.u8, p[:n])
		}
	case 2:
		for i := 0; i+1 < n; i += 2 {
			c.i16[i/2] = int16(getUint16(p[i:], f))
		}
	case 4:
		for i := 0; i+3 < n; i += 4 {
			c.i32[i/4] = int32(getUint32(p[i:], f))
		}
	}
	return n
}

func putUint16(b []byte, v uint16, f pcm.StreamFormat) {
	if f.Endian == pcm.BigEndian {
		b[0], b[1] = byte(v>>8), byte(v)
		return
	}
	b[0], b[1] = byte(v), byte(v>>8)
}

func getUint16(b []byte, f pcm.StreamFormat) uint16 {
	if f.Endian == pcm.BigEndian {
		return uint16(b[0])<<8 | uint16(b[1])
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func putUint32(b []byte, v uint32, f pcm.StreamFormat) {
	if f.Endian == pcm.BigEndian {
		b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
		return
	}
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func getUint32(b []byte, f pcm.StreamFormat) uint32 {
	if f.Endian == pcm.BigEndian {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
