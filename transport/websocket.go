package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jibuji/go-stream-rpc/stream"
)

// DialWebSocket opens a websocket connection to url.
func DialWebSocket(ctx context.Context, url string, opts ...stream.Option) (*stream.WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, err
	}
	return stream.NewWebSocket(conn, opts...), nil
}

// Upgrader returns the upgrader used by servers accepting websocket peers.
// Origins are not checked; peers are not browsers.
func Upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}
