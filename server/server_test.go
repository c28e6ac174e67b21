package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/protocol"
	"github.com/jibuji/go-stream-rpc/stream"
	"github.com/jibuji/go-stream-rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func callAdd(t *testing.T, p *peer.Peer, a, b int) int {
	t.Helper()
	payload, err := json.Marshal(&Args{A: a, B: b})
	require.NoError(t, err)
	var reply Reply
	err = p.Call(context.Background(), "Arith.Add", payload, func(resp []byte) error {
		return json.Unmarshal(resp, &reply)
	})
	require.NoError(t, err)
	return reply.Result
}

func TestServerTCP(t *testing.T) {
	svr := NewServer()
	require.NoError(t, svr.Register(&Arith{}))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.Serve(l) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	p := peer.New(stream.NewConn(conn))
	defer p.Close()

	assert.Equal(t, 3, callAdd(t, p, 1, 2))
	assert.Equal(t, 30, callAdd(t, p, 10, 20))
	assert.Len(t, svr.Peers(), 1)

	require.NoError(t, svr.Shutdown(time.Second))
	select {
	case err := <-serveErr:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	// the server closed its side, so the client peer fails
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client peer still running after shutdown")
	}
	assert.Empty(t, svr.Peers())
}

func TestServerUnknownService(t *testing.T) {
	svr := NewServer()
	require.NoError(t, svr.Register(&Arith{}))

	a, b := net.Pipe()
	_, err := svr.ServeStream(stream.NewConn(a))
	require.NoError(t, err)
	p := peer.New(stream.NewConn(b))
	defer p.Close()

	_, err = p.CallRaw(context.Background(), "Nope.Add", nil)
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeMethodNotFound, rpcErr.Code)

	require.NoError(t, svr.Shutdown(time.Second))
}

func TestServerRejectsAfterShutdown(t *testing.T) {
	svr := NewServer()
	require.NoError(t, svr.Shutdown(time.Second))

	a, _ := net.Pipe()
	_, err := svr.ServeStream(stream.NewConn(a))
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestServerRegisterRejectsValues(t *testing.T) {
	svr := NewServer()
	assert.Error(t, svr.Register(Arith{}))
}

func TestServerWebSocket(t *testing.T) {
	svr := NewServer(WithKeepAlive(time.Second))
	require.NoError(t, svr.Register(&Arith{}))
	ts := httptest.NewServer(svr.WebSocketHandler())
	defer ts.Close()
	defer svr.Shutdown(time.Second)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	st, err := transport.DialWebSocket(context.Background(), url)
	require.NoError(t, err)
	p := peer.New(st)
	defer p.Close()

	assert.Equal(t, 9, callAdd(t, p, 4, 5))
}

func TestServerLibp2p(t *testing.T) {
	serverHost, err := transport.NewHost()
	require.NoError(t, err)
	defer serverHost.Close()
	clientHost, err := transport.NewHost()
	require.NoError(t, err)
	defer clientHost.Close()

	svr := NewServer()
	require.NoError(t, svr.Register(&Arith{}))
	svr.ServeLibp2p(serverHost)
	defer svr.Shutdown(time.Second)

	addrs, err := transport.HostAddrs(serverHost)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d := &transport.Libp2pDialer{Host: clientHost}
	st, err := d.Dial(ctx, addrs[0])
	require.NoError(t, err)
	p := peer.New(st)
	defer p.Close()

	assert.Equal(t, 7, callAdd(t, p, 3, 4))
}

func TestServerCallsBackIntoConnectingPeer(t *testing.T) {
	svr := NewServer()
	got := make(chan string, 1)
	svr.OnPeer(func(p *peer.Peer) {
		resp, err := p.CallRaw(context.Background(), "Client.Name", nil)
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- string(resp)
	})

	a, b := net.Pipe()
	client := peer.New(stream.NewConn(b), peer.WithService("Client", peer.Methods{
		"Name": func(context.Context, []byte) ([]byte, error) { return []byte("alice"), nil },
	}))
	defer client.Close()
	_, err := svr.ServeStream(stream.NewConn(a))
	require.NoError(t, err)
	defer svr.Shutdown(time.Second)

	select {
	case name := <-got:
		assert.Equal(t, "alice", name)
	case <-time.After(2 * time.Second):
		t.Fatal("no callback result")
	}
}

func TestShutdownTimeout(t *testing.T) {
	svr := NewServer()
	blocked := &blockingStream{closed: make(chan struct{})}
	_, err := svr.ServeStream(blocked)
	require.NoError(t, err)

	// Close on the stream never unblocks reads, so the peer cannot finish
	err = svr.Shutdown(50 * time.Millisecond)
	assert.Error(t, err)
	close(blocked.closed)
}

// blockingStream ignores Close until the test releases it.
type blockingStream struct {
	closed chan struct{}
}

func (b *blockingStream) Write([]byte) error { return nil }

func (b *blockingStream) ReadFull([]byte) error {
	<-b.closed
	return errors.New("released")
}

func (b *blockingStream) Close() error { return nil }
