package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	LengthLen = 4
	CodeLen   = 4
	HeaderLen = LengthLen + CodeLen

	// readChunk bounds a single payload read.
	readChunk = 4096
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrShortPayload    = errors.New("frame: peer closed mid-payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrShortWrite      = errors.New("frame: short write")
)

// Code is the four ASCII bytes naming a frame's command.
type Code [CodeLen]byte

func (c Code) String() string {
	return string(c[:])
}

// Header is the fixed wire header.
type Header struct {
	PayloadLen uint32
	Code       Code
}

// Frame is one complete wire message.
type Frame struct {
	Code    Code
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 256 * 1024 * 1024,
	}
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:LengthLen], h.PayloadLen)
	copy(buf[LengthLen:], h.Code[:])
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	var h Header
	h.PayloadLen = binary.BigEndian.Uint32(b[0:LengthLen])
	copy(h.Code[:], b[LengthLen:])
	return h, nil
}

// Encode returns the header followed by the payload in one buffer.
func Encode(f Frame, limits Limits) ([]byte, error) {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 0, HeaderLen+len(f.Payload))
	buf = append(buf, EncodeHeader(Header{PayloadLen: uint32(len(f.Payload)), Code: f.Code})...)
	return append(buf, f.Payload...), nil
}

// WriteFrame writes the whole frame with a single Write.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	buf, err := Encode(f, limits)
	if err != nil {
		return err
	}
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(buf))
	}
	return nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if err := readFull(r, fixed[:]); err != nil {
		if errors.Is(err, ErrShortPayload) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, h.PayloadLen)
	}

	payload := make([]byte, h.PayloadLen)
	if err := readFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Code: h.Code, Payload: payload}, nil
}

// readFull fills buf, retrying short reads. A read that returns no data
// before buf is full ends the frame: io.EOF and zero-byte reads map to
// ErrShortPayload, other errors are returned as is.
func readFull(r io.Reader, buf []byte) error {
	total := 0
	for total < len(buf) {
		end := min(total+readChunk, len(buf))
		n, err := r.Read(buf[total:end])
		total += n
		if total == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: got %d of %d bytes", ErrShortPayload, total, len(buf))
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: zero-byte read after %d of %d bytes", ErrShortPayload, total, len(buf))
		}
	}
	return nil
}
