package client

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jibuji/go-stream-rpc/codec"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/protocol"
	"github.com/jibuji/go-stream-rpc/server"
	"github.com/jibuji/go-stream-rpc/service"
	"github.com/jibuji/go-stream-rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

type Greeter struct{}

func (g *Greeter) Hello(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return wrapperspb.String("hello " + in.GetValue()), nil
}

func startTCP(t *testing.T, svr *server.Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = svr.Serve(l) }()
	t.Cleanup(func() { _ = svr.Shutdown(time.Second) })
	return l.Addr().String()
}

func TestClientCall(t *testing.T) {
	svr := server.NewServer()
	require.NoError(t, svr.Register(&Arith{}))
	addr := startTCP(t, svr)

	ctx := context.Background()
	c, err := Dial(ctx, &transport.Dialer{}, transport.KindTCP, addr, nil)
	require.NoError(t, err)
	defer c.Close()

	// Call Arith.Add(1, 2) = 3
	reply := &Reply{}
	require.NoError(t, c.Call(ctx, "Arith.Add", &Args{A: 1, B: 2}, reply))
	assert.Equal(t, 3, reply.Result)

	// Call again: Add(10, 20) = 30
	reply2 := &Reply{}
	require.NoError(t, c.Call(ctx, "Arith.Add", &Args{A: 10, B: 20}, reply2))
	assert.Equal(t, 30, reply2.Result)
}

func TestClientCallErrors(t *testing.T) {
	svr := server.NewServer()
	require.NoError(t, svr.Register(&Arith{}))
	addr := startTCP(t, svr)

	ctx := context.Background()
	c, err := Dial(ctx, &transport.Dialer{}, transport.KindTCP, addr, nil)
	require.NoError(t, err)
	defer c.Close()

	var rpcErr *protocol.Error
	err = c.Call(ctx, "Arith", &Args{}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeInvalidRequest, rpcErr.Code)

	err = c.Call(ctx, "Arith.Sub", &Args{}, &Reply{})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeMethodNotFound, rpcErr.Code)

	// reply of the wrong shape
	var wrong []string
	err = c.Call(ctx, "Arith.Add", &Args{A: 1}, &wrong)
	var decErr *peer.DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestClientWebSocketProto(t *testing.T) {
	cdc := &codec.ProtoCodec{}
	svr := server.NewServer(server.WithCodec(cdc))
	require.NoError(t, svr.Register(&Greeter{}))
	ts := httptest.NewServer(svr.WebSocketHandler())
	t.Cleanup(func() {
		_ = svr.Shutdown(time.Second)
		ts.Close()
	})

	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, err := Dial(ctx, &transport.Dialer{}, transport.KindWebSocket, url, cdc)
	require.NoError(t, err)
	defer c.Close()

	var out wrapperspb.StringValue
	require.NoError(t, c.Call(ctx, "Greeter.Hello", wrapperspb.String("ws"), &out))
	assert.Equal(t, "hello ws", out.GetValue())
}

func TestServerCallsBack(t *testing.T) {
	svr := server.NewServer()
	require.NoError(t, svr.Register(&Arith{}))
	results := make(chan int, 1)
	svr.OnPeer(func(p *peer.Peer) {
		back := NewClient(p, nil)
		var reply Reply
		if err := back.Call(context.Background(), "Arith.Add", &Args{A: 20, B: 22}, &reply); err == nil {
			results <- reply.Result
		}
	})
	addr := startTCP(t, svr)

	// the connecting side serves Arith too, from the first frame on
	arith, err := service.New(&Arith{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	c, err := Dial(ctx, &transport.Dialer{}, transport.KindTCP, addr, nil, peer.WithService("Arith", arith))
	require.NoError(t, err)
	defer c.Close()

	select {
	case got := <-results:
		assert.Equal(t, 42, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not call back")
	}
}
