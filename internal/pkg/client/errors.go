package client

import "github.com/pkg/errors"

// ErrUnexpectedReply indicates that the server answered a command with a
// line the client did not expect.
var ErrUnexpectedReply = errors.New("unexpected reply")

// ErrNotConnected indicates that a command was issued before Connect.
var ErrNotConnected = errors.New("not connected")

// ServerError is an ERROR reply from the server.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Reason
}
