// Package client issues typed calls through a peer, encoding arguments and
// decoding replies with a codec.
package client

import (
	"context"
	"fmt"

	"github.com/jibuji/go-stream-rpc/codec"
	"github.com/jibuji/go-stream-rpc/message"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/protocol"
	"github.com/jibuji/go-stream-rpc/transport"
)

type Client struct {
	peer  *peer.Peer
	codec codec.Codec
}

// NewClient wraps p. A nil codec means JSON.
func NewClient(p *peer.Peer, cdc codec.Codec) *Client {
	if cdc == nil {
		cdc = &codec.JSONCodec{}
	}
	return &Client{peer: p, codec: cdc}
}

// Dial connects over kind, starts a peer on the connection and returns a
// client for it. Services the remote side may call back into can be
// registered on Peer().
func Dial(ctx context.Context, d *transport.Dialer, kind transport.Kind, addr string, cdc codec.Codec, opts ...peer.Option) (*Client, error) {
	st, err := d.Dial(ctx, kind, addr)
	if err != nil {
		return nil, err
	}
	return NewClient(peer.New(st, opts...), cdc), nil
}

// Peer returns the underlying peer.
func (c *Client) Peer() *peer.Peer {
	return c.peer
}

// Call invokes serviceMethod ("Service.Method") with args and decodes the
// result into reply. A nil reply discards the result.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	req := message.Request{ServiceMethod: serviceMethod}
	if _, _, ok := req.Split(); !ok {
		return protocol.Errorf(protocol.CodeInvalidRequest, "invalid service method format: %q", serviceMethod)
	}

	payload, err := c.codec.Encode(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", serviceMethod, err)
	}

	var decode peer.DecodeFunc
	if reply != nil {
		decode = func(resp []byte) error {
			return c.codec.Decode(resp, reply)
		}
	}
	return c.peer.Call(ctx, serviceMethod, payload, decode)
}

// Close shuts the peer down.
func (c *Client) Close() error {
	return c.peer.Close()
}
