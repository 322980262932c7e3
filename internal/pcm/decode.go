package pcm

// A Decoder walks a raw byte buffer and produces one multi-channel
// frame of samples per call to Next. The decoder is finite and
// re-seekable: Reset starts a new pass from byte 0 of the same buffer.
//
// A buffer whose tail holds fewer bytes than one full frame terminates
// the sequence cleanly. That is the normal end-of-period condition for
// capture reads, not a decode fault.
type Decoder struct {
	buf    []byte
	format StreamFormat
	pos    int
	frame  []int64
}

// NewDecoder returns a Decoder positioned at the start of buf.
func NewDecoder(buf []byte, format StreamFormat) *Decoder {
	return &Decoder{
		buf:    buf,
		format: format,
		frame:  make([]int64, format.Channels),
	}
}

// Next decodes the next frame. It reports false when fewer bytes remain
// than a full frame requires.
func (d *Decoder) Next() bool {
	if d.pos+d.format.FrameSize() > len(d.buf) {
		return false
	}
	for ch := 0; ch < d.format.Channels; ch++ {
		d.frame[ch] = d.decodeSample(d.buf[d.pos : d.pos+d.format.Width])
		d.pos += d.format.Width
	}
	return true
}

// Frame returns the most recently decoded frame, one sample per
// channel. The slice is reused by the next call to Next.
func (d *Decoder) Frame() []int64 {
	return d.frame
}

// Reset rewinds the decoder to byte 0 of the buffer.
func (d *Decoder) Reset() {
	d.pos = 0
}

// decodeSample interprets one sample of Width bytes. 3-byte samples
// have no native integer type and are padded to 4 bytes first: the
// sign-extension byte goes at the most significant end, which is the
// tail for little-endian data and the head for big-endian data.
func (d *Decoder) decodeSample(raw []byte) int64 {
	f := d.format
	switch f.Width {
	case 1:
		if f.Signed {
			return int64(int8(raw[0]))
		}
		return int64(raw[0])
	case 2:
		u := f.byteOrder().Uint16(raw)
		if f.Signed {
			return int64(int16(u))
		}
		return int64(u)
	case 3:
		var padded [4]byte
		if f.Endian == BigEndian {
			padded[0] = extensionByte(raw[0], f.Signed)
			copy(padded[1:], raw)
		} else {
			copy(padded[:3], raw)
			padded[3] = extensionByte(raw[2], f.Signed)
		}
		return d.decodeWord(padded[:])
	case 4:
		return d.decodeWord(raw)
	}
	return 0
}

// decodeWord interprets 4 bytes as a 32-bit integer per the format's
// endianness and signedness.
func (d *Decoder) decodeWord(raw []byte) int64 {
	u := d.format.byteOrder().Uint32(raw)
	if d.format.Signed {
		return int64(int32(u))
	}
	return int64(u)
}

// extensionByte returns the pad byte for a 3-byte sample whose most
// significant available byte is msb. Unsigned samples always pad with
// zero; signed samples replicate the sign bit.
func extensionByte(msb byte, signed bool) byte {
	if signed && msb&0x80 != 0 {
		return 0xFF
	}
	return 0x00
}
