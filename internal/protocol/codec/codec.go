// Package codec encodes typed values to the pose-service byte layout and back.
//
// Values carry no type tags on the wire: a payload is decoded by calling the
// Decoder methods in exactly the order the Encoder methods were called.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// LenSize is the size of every length, count and int32 field.
	LenSize = 4
)

var (
	ErrMalformedFrame = errors.New("codec: malformed frame")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Encoder appends encoded values to a growing byte buffer.
type Encoder struct {
	buf []byte
}

func NewEncoder(sizeHint int) *Encoder {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the encoded buffer. It aliases the encoder's storage.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PutInt32(v int32) {
	e.PutUint32(uint32(v))
}

func (e *Encoder) PutFloat32(v float32) {
	e.PutUint32(math.Float32bits(v))
}

// PutString writes the byte length followed by the raw bytes.
func (e *Encoder) PutString(s string) {
	e.putLen(len(s))
	e.buf = append(e.buf, s...)
}

// PutRaw appends b without any prefix.
func (e *Encoder) PutRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) putLen(n int) {
	if n > math.MaxInt32 {
		panic(fmt.Sprintf("codec: length %d overflows int32", n))
	}
	e.PutInt32(int32(n))
}

// PutSequence writes len(items) followed by each item encoded with put.
func PutSequence[T any](e *Encoder, items []T, put func(*Encoder, T)) {
	e.putLen(len(items))
	for _, item := range items {
		put(e, item)
	}
}

// Decoder reads values from a buffer through one cursor shared by every call.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Offset is the number of bytes consumed so far.
func (d *Decoder) Offset() int {
	return d.off
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// take returns the next n bytes and advances the cursor, or fails without
// moving it when fewer than n bytes remain.
func (d *Decoder) take(n int, what string) ([]byte, error) {
	if n < 0 {
		return nil, malformed("%s: negative size %d", what, n)
	}
	if n > d.Remaining() {
		return nil, malformed("%s: need %d bytes at offset %d, have %d", what, n, d.off, d.Remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(LenSize, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

func (d *Decoder) Float32() (float32, error) {
	v, err := d.Uint32()
	return math.Float32frombits(v), err
}

func (d *Decoder) String() (string, error) {
	n, err := d.length("string")
	if err != nil {
		return "", err
	}
	b, err := d.take(n, "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Raw returns a copy of the next n bytes.
func (d *Decoder) Raw(n int) ([]byte, error) {
	b, err := d.take(n, "raw")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) length(what string) (int, error) {
	n, err := d.Int32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, malformed("%s: negative length %d", what, n)
	}
	return int(n), nil
}

// Sequence reads an element count followed by that many elements decoded
// with get. The count is checked against the remaining bytes before any
// element is allocated; every element occupies at least one byte.
func Sequence[T any](d *Decoder, get func(*Decoder) (T, error)) ([]T, error) {
	n, err := d.length("sequence")
	if err != nil {
		return nil, err
	}
	if n > d.Remaining() {
		return nil, malformed("sequence: %d elements cannot fit in %d bytes", n, d.Remaining())
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := get(d)
		if err != nil {
			return nil, fmt.Errorf("sequence[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
