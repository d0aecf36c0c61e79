package protocol

import (
	"fmt"

	"github.com/danmuck/posewire/internal/protocol/codec"
	"github.com/danmuck/posewire/internal/protocol/frame"
)

// Message is a command with its encoded payload.
type Message struct {
	Command Command
	Payload []byte
}

func NewMessage(cmd Command, payload []byte) Message {
	return Message{Command: cmd, Payload: payload}
}

// Frame wraps m for the wire.
func (m Message) Frame() (frame.Frame, error) {
	c, ok := m.Command.Code()
	if !ok {
		return frame.Frame{}, fmt.Errorf("%w: %s", ErrUnencodable, m.Command)
	}
	return frame.Frame{Code: c, Payload: m.Payload}, nil
}

// MessageFromFrame never fails; unknown codes become CommandUnknown.
func MessageFromFrame(f frame.Frame) Message {
	return Message{Command: CommandFromCode(f.Code), Payload: f.Payload}
}

// ErrorMessage builds the ERROR reply carrying text.
func ErrorMessage(text string) Message {
	e := codec.NewEncoder(codec.LenSize + len(text))
	e.PutString(text)
	return NewMessage(CommandError, e.Bytes())
}

// ValidateResponse checks that reply answers a request expecting the
// expected command. An ERROR reply becomes a *ServerError carrying the
// peer's text; any other mismatch is an *UnexpectedMessageError.
func ValidateResponse(expected Command, reply Message) error {
	if reply.Command == expected {
		return nil
	}
	if reply.Command != CommandError {
		return &UnexpectedMessageError{Expected: expected, Actual: reply.Command}
	}
	text, err := codec.NewDecoder(reply.Payload).String()
	if err != nil {
		return fmt.Errorf("protocol: decode server error: %w", err)
	}
	return &ServerError{Message: text}
}
