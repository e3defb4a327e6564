package ftms

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortBuffer = errors.New("buffer too short")
	ErrNotResponse = errors.New("not a control point response")
)

// frameReader walks a little-endian notification payload field by field.
type frameReader struct {
	buf []byte
	off int
}

func (r *frameReader) need(n int, field string) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("%w for %s at offset %d", ErrShortBuffer, field, r.off)
	}
	return nil
}

func (r *frameReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *frameReader) u8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *frameReader) u16(field string) (uint16, error) {
	if err := r.need(2, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *frameReader) i16(field string) (int16, error) {
	v, err := r.u16(field)
	return int16(v), err
}

func (r *frameReader) u24(field string) (uint32, error) {
	if err := r.need(3, field); err != nil {
		return 0, err
	}
	b := r.buf[r.off:]
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	r.off += 3
	return v, nil
}

func (r *frameReader) u32(field string) (uint32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func appendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func appendU24(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16))
}
