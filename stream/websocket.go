package stream

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsWriteWait bounds control frame writes (pings and the close handshake).
const wsWriteWait = 5 * time.Second

// WithKeepAlive makes a WebSocket adapter send a ping every interval and
// fail the stream when nothing, not even a pong, arrives for two intervals.
func WithKeepAlive(interval time.Duration) Option {
	return func(o *options) {
		o.keepAlive = interval
	}
}

// WebSocket adapts a message-oriented websocket connection. Each inbound
// message becomes one Inbox chunk; each Write is sent as one binary message.
type WebSocket struct {
	conn      *websocket.Conn
	in        *Inbox
	log       *zap.Logger
	keepAlive time.Duration

	wmu       sync.Mutex // gorilla allows one concurrent writer
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established websocket connection.
func NewWebSocket(conn *websocket.Conn, opts ...Option) *WebSocket {
	o := buildOptions(opts)
	ws := &WebSocket{
		conn:      conn,
		in:        NewInbox(o.inboxLimit),
		log:       o.logger,
		keepAlive: o.keepAlive,
		done:      make(chan struct{}),
	}
	conn.SetReadLimit(o.messageLimit)
	if ws.keepAlive > 0 {
		ws.extendDeadline()
		conn.SetPongHandler(func(string) error {
			ws.extendDeadline()
			return nil
		})
		go ws.pingLoop()
	}
	go ws.readLoop()
	return ws
}

func (ws *WebSocket) extendDeadline() {
	if ws.keepAlive > 0 {
		_ = ws.conn.SetReadDeadline(time.Now().Add(2 * ws.keepAlive))
	}
}

func (ws *WebSocket) readLoop() {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			} else if !ws.closed.Load() {
				ws.log.Debug("websocket read failed", zap.Error(err))
			}
			ws.in.CloseWithError(err)
			return
		}
		ws.extendDeadline()
		if !ws.in.Push(data) {
			return
		}
	}
}

// pingLoop sends ping control frames until the adapter closes.
func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(ws.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			if err != nil {
				ws.log.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (ws *WebSocket) Write(p []byte) error {
	ws.wmu.Lock()
	defer ws.wmu.Unlock()
	if ws.closed.Load() {
		return ErrClosed
	}
	err := ws.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil && ws.closed.Load() {
		return ErrClosed
	}
	return err
}

func (ws *WebSocket) ReadFull(p []byte) error {
	return ws.in.ReadFull(p)
}

// Close sends a best-effort close frame and closes the connection.
func (ws *WebSocket) Close() error {
	ws.closeOnce.Do(func() {
		ws.closed.Store(true)
		close(ws.done)
		ws.in.Close()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		ws.closeErr = ws.conn.Close()
	})
	return ws.closeErr
}
