// Package transport establishes the connections a peer runs over and wraps
// them in the matching stream adapter.
//
//	tcp     net.Conn            → stream.Conn
//	ws      *websocket.Conn     → stream.WebSocket
//	libp2p  network.Stream      → stream.Libp2p
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/jibuji/go-stream-rpc/stream"
)

// Kind names a transport in configuration.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
	KindLibp2p    Kind = "libp2p"
)

// ParseKind validates a transport name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTCP, KindWebSocket, KindLibp2p:
		return k, nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// Dialer opens client-side streams. The zero value dials with no keepalive.
type Dialer struct {
	// KeepAlive is the TCP keepalive period for tcp, and the ping interval
	// for ws. Zero disables it.
	KeepAlive time.Duration
	// Libp2p dials libp2p targets; required for KindLibp2p.
	Libp2p *Libp2pDialer
	// StreamOptions are passed to the stream adapter.
	StreamOptions []stream.Option
}

// Dial connects to addr over kind. For ws, addr is a ws:// URL; for libp2p,
// a multiaddr ending in /p2p/<peer id>.
func (d *Dialer) Dial(ctx context.Context, kind Kind, addr string) (stream.Stream, error) {
	switch kind {
	case KindTCP:
		s, err := DialTCP(ctx, addr, d.KeepAlive, d.StreamOptions...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindWebSocket:
		opts := d.StreamOptions
		if d.KeepAlive > 0 {
			opts = append(opts[:len(opts):len(opts)], stream.WithKeepAlive(d.KeepAlive))
		}
		s, err := DialWebSocket(ctx, addr, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindLibp2p:
		if d.Libp2p == nil {
			return nil, fmt.Errorf("transport: libp2p dial needs a host")
		}
		s, err := d.Libp2p.Dial(ctx, addr, d.StreamOptions...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}
