package transport

import (
	"context"
	"net"
	"time"

	"github.com/jibuji/go-stream-rpc/stream"
)

// DialTCP connects to addr and wraps the connection in a raw byte adapter.
func DialTCP(ctx context.Context, addr string, keepAlive time.Duration, opts ...stream.Option) (*stream.Conn, error) {
	d := net.Dialer{KeepAlive: keepAlive}
	if keepAlive == 0 {
		d.KeepAlive = -1
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return stream.NewConn(conn, opts...), nil
}
