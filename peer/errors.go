package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerClosing fails calls that were pending when the peer shut down,
	// and every call issued afterwards.
	ErrPeerClosing = errors.New("peer is closing")
	// ErrTooManyPending is returned when every sequence number is in use.
	ErrTooManyPending = errors.New("no free sequence number")
)

// DecodeError reports that a response arrived but the caller's decoder
// rejected it. The remote side is not involved.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
