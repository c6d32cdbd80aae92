package dhcp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncatedFrame = errors.New("truncated frame")
	ErrNoMessageType  = errors.New("no message type")
	ErrBadCookie      = errors.New("invalid magic cookie")
)

// Reader is a bounds-checked cursor over a DHCP payload. Every accessor
// validates the remaining length first and returns ErrTruncatedFrame
// instead of reading past the buffer.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Offset() int { return r.off }

func (r *Reader) Len() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if n < 0 || r.Len() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedFrame, n, r.off, r.Len())
	}
	return nil
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) error {
	if off < 0 || off > len(r.buf) {
		return fmt.Errorf("%w: seek to %d beyond %d bytes", ErrTruncatedFrame, off, len(r.buf))
	}
	r.off = off
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}
