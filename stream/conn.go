package stream

import (
	"io"
	"sync"
	"sync/atomic"
)

// Conn adapts a raw byte duplex such as a net.Conn. Reads arrive in
// arbitrary-sized chunks; writes are submitted directly.
type Conn struct {
	rwc       io.ReadWriteCloser
	in        *Inbox
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps rwc and starts pulling bytes from it.
func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	o := buildOptions(opts)
	c := &Conn{
		rwc: rwc,
		in:  NewInbox(o.inboxLimit),
	}
	go pump(rwc, c.in, o.readChunkSize)
	return c
}

func (c *Conn) Write(p []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.rwc.Write(p)
	if err != nil && c.closed.Load() {
		return ErrClosed
	}
	return err
}

func (c *Conn) ReadFull(p []byte) error {
	return c.in.ReadFull(p)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.in.Close()
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
