package stream

import (
	"iter"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/network"
	"go.uber.org/zap"
)

// Libp2p adapts a libp2p stream, one of many multiplexed over a single
// libp2p connection. Writes are queued on an Outbox and drained by a single
// writer goroutine; reads are pulled from the stream into an Inbox.
type Libp2p struct {
	s   network.Stream
	in  *Inbox
	out *Outbox
	log *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewLibp2p wraps s and starts its reader and writer goroutines.
func NewLibp2p(s network.Stream, opts ...Option) *Libp2p {
	o := buildOptions(opts)
	l := &Libp2p{
		s:   s,
		in:  NewInbox(o.inboxLimit),
		out: NewOutbox(),
		log: o.logger.With(zap.String("protocol", string(s.Protocol()))),
	}
	go pump(s, l.in, o.readChunkSize)
	go l.writeLoop()
	return l
}

func (l *Libp2p) writeLoop() {
	err := l.out.Run(l.sink)
	if err != nil && !l.closed.Load() {
		l.log.Warn("libp2p write loop failed", zap.Error(err))
		_ = l.Close()
	}
}

// sink drains chunks into the stream in order.
func (l *Libp2p) sink(chunks iter.Seq[[]byte]) error {
	for chunk := range chunks {
		if _, err := l.s.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Write enqueues p; it returns once p is queued, not once it is sent.
func (l *Libp2p) Write(p []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.out.Push(p)
}

func (l *Libp2p) ReadFull(p []byte) error {
	return l.in.ReadFull(p)
}

// Close resets the stream in both directions.
func (l *Libp2p) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.out.Close()
		l.in.Close()
		l.closeErr = l.s.Reset()
	})
	return l.closeErr
}
