// Package stream adapts concrete transports to the exact-length byte stream
// the peer engine reads frames from.
//
// Transports deliver bytes in whatever unit suits them: whole websocket
// messages, libp2p stream reads, or arbitrary TCP segments. Every adapter in
// this package feeds those units into an Inbox, which serves ReadFull by
// copying across chunk boundaries and keeping leftovers for the next read:
//
//	chunks: [3 bytes][1 byte][4 bytes]
//	ReadFull(5) ← 3 + 1 + first byte of the 4-byte chunk
//	ReadFull(3) ← the 3 leftover bytes
//
// Outbound, adapters come in two shapes. Direct-submit adapters (Conn,
// WebSocket) hand each buffer to the transport and return when it has been
// accepted. Pull-driven adapters (Libp2p) enqueue buffers on an Outbox that a
// single background goroutine drains into the transport.
package stream

import (
	"errors"
	"time"

	"github.com/jibuji/go-stream-rpc/protocol"
	"go.uber.org/zap"
)

// ErrClosed is returned by Write and ReadFull after the stream was closed
// locally.
var ErrClosed = errors.New("stream: closed")

// Stream is the contract the peer engine consumes.
//
// Write submits one buffer for transmission, preserving submission order.
// ReadFull blocks until p is completely filled or the stream fails.
// Close tears the channel down immediately and unblocks pending reads.
type Stream interface {
	Write(p []byte) error
	ReadFull(p []byte) error
	Close() error
}

const (
	defaultReadChunkSize = 32 * 1024
	defaultInboxLimit    = 1024 * 1024
	// one default-sized frame plus its length prefix
	defaultMessageLimit = int64(protocol.LengthSize) + int64(protocol.DefaultMaxFrameSize)
)

type options struct {
	readChunkSize int
	inboxLimit    int
	keepAlive     time.Duration
	messageLimit  int64
	logger        *zap.Logger
}

// Option configures an adapter.
type Option func(*options)

// WithReadChunkSize sets the buffer size used for each read from a byte
// oriented transport.
func WithReadChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readChunkSize = n
		}
	}
}

// WithInboxLimit bounds how many unread bytes an adapter buffers before it
// stops pulling from the transport.
func WithInboxLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.inboxLimit = n
		}
	}
}

// WithMessageLimit caps the size of a single inbound message on
// message-oriented transports. A larger message fails the stream.
func WithMessageLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.messageLimit = n
		}
	}
}

// WithLogger sets the logger used for background loop failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		readChunkSize: defaultReadChunkSize,
		inboxLimit:    defaultInboxLimit,
		messageLimit:  defaultMessageLimit,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
