// Package server accepts connections and binds a peer to each one.
//
// Every accepted connection gets its own peer.Peer with the server's
// services registered on it. Because peers are symmetric, the accepting side
// can call back into the connecting side through the peer handed to OnPeer.
//
//	Accept conn → stream adapter → peer.New → register services → OnPeer
//	  → peer read loop serves requests until the connection ends
package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jibuji/go-stream-rpc/codec"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/service"
	"github.com/jibuji/go-stream-rpc/stream"
	"github.com/jibuji/go-stream-rpc/transport"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"go.uber.org/zap"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Server holds the services offered to every connection.
type Server struct {
	mu         sync.Mutex
	services   map[string]peer.Service // "Adder" → method table
	codec      codec.Codec
	peerOpts   []peer.Option
	streamOpts []stream.Option
	keepAlive  time.Duration
	log        *zap.Logger
	onPeer     func(*peer.Peer)

	listeners map[net.Listener]struct{}
	peers     map[*peer.Peer]struct{}
	wg        sync.WaitGroup // one per live peer
	shutdown  atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithCodec sets the codec used by services registered with Register.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithPeerOptions are applied to every peer the server creates.
func WithPeerOptions(opts ...peer.Option) Option {
	return func(s *Server) { s.peerOpts = append(s.peerOpts, opts...) }
}

// WithStreamOptions are applied to every stream adapter the server creates.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(s *Server) { s.streamOpts = append(s.streamOpts, opts...) }
}

// WithKeepAlive enables pings on websocket connections.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a server with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		services:  make(map[string]peer.Service),
		codec:     &codec.JSONCodec{},
		log:       zap.NewNop(),
		listeners: make(map[net.Listener]struct{}),
		peers:     make(map[*peer.Peer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers a receiver (e.g. &Adder{}) under its type name.
func (s *Server) Register(rcvr any) error {
	svc, err := service.New(rcvr, s.codec)
	if err != nil {
		return err
	}
	s.RegisterName(svc.Name(), svc)
	return nil
}

// RegisterName registers svc under name. Peers that are already connected
// do not see the new service.
func (s *Server) RegisterName(name string, svc peer.Service) {
	s.mu.Lock()
	s.services[name] = svc
	s.mu.Unlock()
}

// OnPeer sets a callback run for each new peer after its services are
// registered. It runs on its own goroutine.
func (s *Server) OnPeer(fn func(*peer.Peer)) {
	s.mu.Lock()
	s.onPeer = fn
	s.mu.Unlock()
}

// ServeStream binds a new peer to st. The server owns st from now on.
func (s *Server) ServeStream(st stream.Stream) (*peer.Peer, error) {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = st.Close()
		return nil, ErrServerClosed
	}
	opts := append([]peer.Option{peer.WithLogger(s.log)}, s.peerOpts...)
	for name, svc := range s.services {
		opts = append(opts, peer.WithService(name, svc))
	}
	p := peer.New(st, opts...)
	s.peers[p] = struct{}{}
	s.wg.Add(1)
	onPeer := s.onPeer
	s.mu.Unlock()

	s.log.Debug("peer connected", zap.String("peer", p.ID()))
	go s.track(p)
	if onPeer != nil {
		go onPeer(p)
	}
	return p, nil
}

// track forgets p once its read loop has stopped.
func (s *Server) track(p *peer.Peer) {
	defer s.wg.Done()
	<-p.Done()
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	s.log.Debug("peer disconnected", zap.String("peer", p.ID()), zap.Error(p.Err()))
}

// Serve accepts raw byte connections from l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener; tell that apart from real failures
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		if _, err := s.ServeStream(stream.NewConn(conn, s.streamOpts...)); err != nil {
			return err
		}
	}
}

// WebSocketHandler upgrades HTTP requests and serves each as a peer.
func (s *Server) WebSocketHandler() http.Handler {
	up := transport.Upgrader()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		if _, err := s.ServeStream(s.wrapWebSocket(conn)); err != nil {
			s.log.Debug("websocket rejected", zap.Error(err))
		}
	})
}

func (s *Server) wrapWebSocket(conn *websocket.Conn) *stream.WebSocket {
	opts := s.streamOpts
	if s.keepAlive > 0 {
		opts = append(opts[:len(opts):len(opts)], stream.WithKeepAlive(s.keepAlive))
	}
	return stream.NewWebSocket(conn, opts...)
}

// ServeLibp2p serves every inbound RPC stream on h.
func (s *Server) ServeLibp2p(h host.Host) {
	h.SetStreamHandler(transport.ProtocolID, func(ns network.Stream) {
		if _, err := s.ServeStream(stream.NewLibp2p(ns, s.streamOpts...)); err != nil {
			s.log.Debug("libp2p stream rejected", zap.Error(err))
		}
	})
}

// Peers returns the currently connected peers.
func (s *Server) Peers() []*peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer.Peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Shutdown stops accepting, closes every peer and waits for their read loops
// to finish, up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing listeners so Serve reports ErrServerClosed
	s.mu.Lock()
	s.shutdown.Store(true)
	listeners := s.listeners
	s.listeners = make(map[net.Listener]struct{})
	peers := make([]*peer.Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for l := range listeners {
		_ = l.Close()
	}
	for _, p := range peers {
		_ = p.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for %d peers to close", len(peers))
	}
}
