package stream

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/libp2p/go-libp2p/core/network"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchange writes two buffers on a and reads them back on b with read sizes
// that do not line up with the write boundaries.
func exchange(t *testing.T, a, b Stream) {
	t.Helper()

	go func() {
		_ = a.Write([]byte("hello "))
		_ = a.Write([]byte("stream world"))
	}()

	first := make([]byte, 4)
	require.NoError(t, b.ReadFull(first))
	assert.Equal(t, "hell", string(first))

	second := make([]byte, 14)
	require.NoError(t, b.ReadFull(second))
	assert.Equal(t, "o stream world", string(second))
}

func TestConnExchange(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewConn(c1, WithReadChunkSize(3))
	b := NewConn(c2, WithReadChunkSize(3))
	defer a.Close()
	defer b.Close()

	exchange(t, a, b)
	exchange(t, b, a)
}

func TestConnCloseFailsWriteAndRead(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewConn(c1)
	b := NewConn(c2)
	defer b.Close()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Write([]byte{1}), ErrClosed)
	assert.ErrorIs(t, a.ReadFull(make([]byte, 1)), ErrClosed)

	// the remote side sees the end of the stream
	err := b.ReadFull(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func newWebSocketPair(t *testing.T, opts ...Option) (client, server *WebSocket) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	accepted := make(chan *WebSocket, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- NewWebSocket(conn, opts...)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	client = NewWebSocket(conn, opts...)

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never accepted")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestWebSocketExchange(t *testing.T) {
	client, server := newWebSocketPair(t)
	exchange(t, client, server)
	exchange(t, server, client)
}

func TestWebSocketKeepAlive(t *testing.T) {
	client, server := newWebSocketPair(t, WithKeepAlive(50*time.Millisecond))

	// several keepalive periods pass without traffic; pongs keep both alive
	time.Sleep(250 * time.Millisecond)
	exchange(t, client, server)
}

func TestWebSocketCloseEndsRemote(t *testing.T) {
	client, server := newWebSocketPair(t)
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Write([]byte{1}), ErrClosed)

	err := server.ReadFull(make([]byte, 1))
	assert.Error(t, err)
}

func TestWebSocketMessageLimit(t *testing.T) {
	client, server := newWebSocketPair(t, WithMessageLimit(16))

	require.NoError(t, client.Write([]byte("12345678")))
	buf := make([]byte, 8)
	require.NoError(t, server.ReadFull(buf))
	assert.Equal(t, "12345678", string(buf))

	require.NoError(t, client.Write(make([]byte, 32)))
	err := server.ReadFull(make([]byte, 1))
	assert.ErrorIs(t, err, websocket.ErrReadLimit)
}

func newLibp2pPair(t *testing.T) (client, server *Libp2p) {
	t.Helper()

	mn, err := mocknet.FullMeshConnected(2)
	require.NoError(t, err)
	t.Cleanup(func() { mn.Close() })

	hosts := mn.Hosts()
	const proto = "/stream-rpc/test/1.0.0"
	accepted := make(chan *Libp2p, 1)
	hosts[1].SetStreamHandler(proto, func(s network.Stream) {
		accepted <- NewLibp2p(s)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := hosts[0].NewStream(ctx, hosts[1].ID(), proto)
	require.NoError(t, err)
	client = NewLibp2p(s)

	// the handler only fires once the remote side sees data
	require.NoError(t, client.Write([]byte("x")))
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler never ran")
	}
	require.NoError(t, server.ReadFull(make([]byte, 1)))

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestLibp2pExchange(t *testing.T) {
	client, server := newLibp2pPair(t)
	exchange(t, client, server)
	exchange(t, server, client)
}

func TestLibp2pCloseFailsWrite(t *testing.T) {
	client, server := newLibp2pPair(t)
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Write([]byte{1}), ErrClosed)

	err := server.ReadFull(make([]byte, 1))
	assert.Error(t, err)
}
