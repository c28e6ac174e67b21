// Package calculator is a small service contract used by the CLI and the
// end-to-end tests: Adder.Add and Adder.Multiply over JSON.
package calculator

import (
	"context"

	"github.com/jibuji/go-stream-rpc/client"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/service"
)

// ServiceName is the name Adder is registered under.
const ServiceName = "Adder"

type Args struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

type Result struct {
	Result int64 `json:"result"`
}

// Adder implements the service.
type Adder struct{}

func (a *Adder) Add(ctx context.Context, args *Args) (*Result, error) {
	return &Result{Result: args.A + args.B}, nil
}

func (a *Adder) Multiply(ctx context.Context, args *Args) (*Result, error) {
	return &Result{Result: args.A * args.B}, nil
}

// NewService returns Adder as a peer.Service.
func NewService() peer.Service {
	svc, err := service.NewWithName(ServiceName, &Adder{}, nil)
	if err != nil {
		// Adder's method set is fixed; this cannot fail
		panic(err)
	}
	return svc
}

// Register installs Adder on p.
func Register(p *peer.Peer) {
	p.RegisterService(ServiceName, NewService())
}

// Client is the typed client for Adder.
type Client struct {
	c *client.Client
}

func NewClient(p *peer.Peer) *Client {
	return &Client{c: client.NewClient(p, nil)}
}

func (c *Client) Add(ctx context.Context, a, b int64) (int64, error) {
	var r Result
	if err := c.c.Call(ctx, ServiceName+".Add", &Args{A: a, B: b}, &r); err != nil {
		return 0, err
	}
	return r.Result, nil
}

func (c *Client) Multiply(ctx context.Context, a, b int64) (int64, error) {
	var r Result
	if err := c.c.Call(ctx, ServiceName+".Multiply", &Args{A: a, B: b}, &r); err != nil {
		return 0, err
	}
	return r.Result, nil
}
