package transport

import (
	"context"
	"fmt"

	"github.com/jibuji/go-stream-rpc/stream"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	libpeer "github.com/libp2p/go-libp2p/core/peer"
	libprotocol "github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// ProtocolID is the libp2p protocol peers negotiate for RPC streams.
const ProtocolID libprotocol.ID = "/stream-rpc/1.0.0"

// NewHost builds a libp2p host listening on listenAddrs, or on a random
// loopback TCP port when none are given.
func NewHost(listenAddrs ...string) (host.Host, error) {
	if len(listenAddrs) == 0 {
		listenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	}
	return libp2p.New(libp2p.ListenAddrStrings(listenAddrs...))
}

// HostAddrs returns the dialable addresses of h, each ending in /p2p/<id>.
func HostAddrs(h host.Host) ([]string, error) {
	info := libpeer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()}
	addrs, err := libpeer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out, nil
}

// Libp2pDialer opens RPC streams from a local host.
type Libp2pDialer struct {
	Host host.Host
}

// Dial connects to target, a multiaddr such as
// /ip4/127.0.0.1/tcp/4001/p2p/12D3KooW..., and opens an RPC stream.
func (d *Libp2pDialer) Dial(ctx context.Context, target string, opts ...stream.Option) (*stream.Libp2p, error) {
	addr, err := ma.NewMultiaddr(target)
	if err != nil {
		return nil, fmt.Errorf("parse multiaddr %q: %w", target, err)
	}
	info, err := libpeer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("multiaddr %q: %w", target, err)
	}
	if err := d.Host.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("connect %s: %w", info.ID, err)
	}
	s, err := d.Host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open stream to %s: %w", info.ID, err)
	}
	return stream.NewLibp2p(s, opts...), nil
}
