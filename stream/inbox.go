package stream

import (
	"errors"
	"io"
	"sync"
)

// Inbox queues inbound chunks and serves exact-length reads from them.
//
// Producers Push chunks as the transport delivers them; the consumer calls
// ReadFull. A chunk that is only partly consumed stays at the head of the
// queue. Push blocks while more than limit bytes are buffered so that a slow
// consumer pushes back on the transport.
type Inbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	chunks   [][]byte
	buffered int
	limit    int
	err      error
}

// NewInbox returns an Inbox that buffers up to limit unread bytes.
// A limit <= 0 means unbounded.
func NewInbox(limit int) *Inbox {
	in := &Inbox{limit: limit}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Push appends chunk to the queue. The Inbox takes ownership of chunk.
// It returns false once the Inbox is closed.
func (in *Inbox) Push(chunk []byte) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	for in.err == nil && in.limit > 0 && in.buffered > 0 && in.buffered+len(chunk) > in.limit {
		in.cond.Wait()
	}
	if in.err != nil {
		return false
	}
	if len(chunk) == 0 {
		return true
	}
	in.chunks = append(in.chunks, chunk)
	in.buffered += len(chunk)
	in.cond.Broadcast()
	return true
}

// CloseWithError records that the transport ended. Chunks already queued
// remain readable; once they are consumed ReadFull returns err.
// A nil err is recorded as io.EOF. Only the first call has an effect.
func (in *Inbox) CloseWithError(err error) {
	if err == nil {
		err = io.EOF
	}
	in.mu.Lock()
	if in.err == nil {
		in.err = err
	}
	in.mu.Unlock()
	in.cond.Broadcast()
}

// Close discards queued chunks and fails every pending and future read
// with ErrClosed.
func (in *Inbox) Close() {
	in.mu.Lock()
	in.err = ErrClosed
	in.chunks = nil
	in.buffered = 0
	in.mu.Unlock()
	in.cond.Broadcast()
}

// ReadFull fills p from the queued chunks, waiting for more as needed.
// If the Inbox ends after some but not all of p was filled, the error is
// io.ErrUnexpectedEOF rather than io.EOF.
func (in *Inbox) ReadFull(p []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	off := 0
	for off < len(p) {
		for len(in.chunks) == 0 && in.err == nil {
			in.cond.Wait()
		}
		if len(in.chunks) == 0 {
			if off > 0 && errors.Is(in.err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return in.err
		}

		chunk := in.chunks[0]
		n := copy(p[off:], chunk)
		off += n
		in.buffered -= n
		if n < len(chunk) {
			in.chunks[0] = chunk[n:]
		} else {
			in.chunks[0] = nil
			in.chunks = in.chunks[1:]
		}
		in.cond.Broadcast()
	}
	return nil
}

// pump copies everything read from r into in until r fails.
func pump(r io.Reader, in *Inbox, size int) {
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !in.Push(chunk) {
				return
			}
		}
		if err != nil {
			in.CloseWithError(err)
			return
		}
	}
}
