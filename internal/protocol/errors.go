package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/posewire/internal/protocol/codec"
)

var (
	ErrMalformedFrame = codec.ErrMalformedFrame
	ErrUnencodable    = errors.New("protocol: command has no wire code")
)

// ServerError is the text the peer sent in an ERROR reply.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "protocol: server error: " + e.Message
}

// UnexpectedMessageError reports a reply that was neither the expected
// command nor ERROR.
type UnexpectedMessageError struct {
	Expected Command
	Actual   Command
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("protocol: unexpected message: expected %s, got %s", e.Expected, e.Actual)
}
