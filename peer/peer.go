// Package peer implements the symmetric RPC engine: one Peer per connection,
// acting as client and server at the same time.
//
// A Peer owns one stream.Stream. A single read loop pulls frames off the
// stream in wire order and either resolves a pending outbound call or hands
// an inbound request to its own goroutine:
//
//	goroutine-1 ──Call(seq=1)──┐                    ┌── go dispatch(req seq=7)
//	goroutine-2 ──Call(seq=2)──┼──→ stream ──→ readLoop
//	handler     ──response 7───┘                    └── pending[2] ← response
//
// Every frame is assembled into one buffer and written under writeMu, so
// concurrent calls and handler responses never interleave on the wire.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jibuji/go-stream-rpc/message"
	"github.com/jibuji/go-stream-rpc/middleware"
	"github.com/jibuji/go-stream-rpc/protocol"
	"github.com/jibuji/go-stream-rpc/stream"
	"go.uber.org/zap"
)

// DecodeFunc decodes a raw response payload into the caller's value.
type DecodeFunc func(payload []byte) error

type result struct {
	payload []byte
	err     error
}

// call is a pending outbound call. It is removed from the pending table
// exactly once: by its response, by the caller giving up, or by shutdown.
type call struct {
	seq    uint32
	method string
	done   chan result // buffered: the resolver never blocks
}

// Peer is one endpoint of a connection.
type Peer struct {
	id           string
	stream       stream.Stream
	log          *zap.Logger
	maxFrameSize uint32
	metrics      *Metrics
	handler      middleware.HandlerFunc

	servicesMu sync.RWMutex
	services   map[string]methodTable

	pendingMu sync.Mutex
	pending   map[uint32]*call
	seq       uint32
	closing   bool

	writeMu sync.Mutex // one frame at a time on the stream

	ctx       context.Context // handed to handlers, cancelled on shutdown
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	err       error // why the read loop stopped; valid once done is closed

	closeHandlerMu sync.Mutex
	closeHandler   func(error)
	failure        error
	notified       bool
}

// New binds a Peer to s and starts its read loop. The Peer owns s from now
// on and closes it on shutdown.
func New(s stream.Stream, opts ...Option) *Peer {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		id:           o.id,
		stream:       s,
		log:          o.logger.With(zap.String("peer", o.id)),
		maxFrameSize: o.maxFrameSize,
		metrics:      o.metrics,
		services:     make(map[string]methodTable),
		pending:      make(map[uint32]*call),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	// Build the middleware chain once, not per request
	p.handler = middleware.Chain(o.middlewares...)(p.invoke)
	for name, svc := range o.services {
		p.services[name] = newMethodTable(svc)
	}
	go p.readLoop()
	return p
}

// ID returns the peer's name used in logs.
func (p *Peer) ID() string { return p.id }

// RegisterService installs svc under name, replacing any previous service
// with that name. The method table is built here, once.
func (p *Peer) RegisterService(name string, svc Service) {
	table := newMethodTable(svc)
	p.servicesMu.Lock()
	p.services[name] = table
	p.servicesMu.Unlock()
}

// SetCloseHandler registers fn to be called once if the connection fails.
// It is not called when the peer is shut down with Close. If the connection
// already failed and no handler has been told yet, fn runs immediately.
func (p *Peer) SetCloseHandler(fn func(err error)) {
	p.closeHandlerMu.Lock()
	p.closeHandler = fn
	p.closeHandlerMu.Unlock()
	p.notifyClose()
}

// Done is closed once the read loop has stopped.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err reports why the peer stopped. It returns nil while the peer runs.
func (p *Peer) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Call issues method on the remote peer and decodes the response with
// decode. A nil decode discards the response payload.
//
// Errors are one of: *protocol.Error for engine-level failures reported by
// the remote peer, *DecodeError when decode rejects the payload,
// ErrPeerClosing (possibly wrapping the transport error) when the peer shut
// down, or ctx.Err().
func (p *Peer) Call(ctx context.Context, method string, payload []byte, decode DecodeFunc) error {
	resp, err := p.CallRaw(ctx, method, payload)
	if err != nil {
		return err
	}
	if decode == nil {
		return nil
	}
	if err := decode(resp); err != nil {
		return &DecodeError{Method: method, Err: err}
	}
	return nil
}

// CallRaw is Call without decoding.
func (p *Peer) CallRaw(ctx context.Context, method string, payload []byte) ([]byte, error) {
	frame, c, err := p.prepare(method, payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	p.metrics.callStarted()

	if err := p.writeFrame(frame, protocol.KindRequest); err != nil {
		p.removePending(c.seq)
		p.metrics.callFinished(method, "local_error", start)
		return nil, err
	}

	select {
	case r := <-c.done:
		p.metrics.callFinished(method, outcome(r.err), start)
		return r.payload, r.err
	case <-ctx.Done():
		p.removePending(c.seq)
		p.metrics.callFinished(method, "local_error", start)
		return nil, ctx.Err()
	}
}

// prepare assigns a sequence number, builds the request frame and registers
// the pending call before anything is written, so the response can never
// arrive ahead of its record.
func (p *Peer) prepare(method string, payload []byte) ([]byte, *call, error) {
	if len(method) > protocol.MaxMethodLen {
		return nil, nil, protocol.ErrMethodTooLong
	}
	if body := protocol.IDSize + 1 + len(method) + len(payload); uint64(body) > uint64(p.maxFrameSize) {
		return nil, nil, fmt.Errorf("%w: request of %d bytes", protocol.ErrFrameTooLarge, body)
	}

	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.closing {
		return nil, nil, ErrPeerClosing
	}
	seq, err := p.nextSeqLocked()
	if err != nil {
		return nil, nil, err
	}
	frame, err := protocol.EncodeRequest(seq, method, payload)
	if err != nil {
		return nil, nil, err
	}
	c := &call{seq: seq, method: method, done: make(chan result, 1)}
	p.pending[seq] = c
	return frame, c, nil
}

// nextSeqLocked returns the next sequence number in 1..protocol.MaxSeq,
// wrapping to 1 and skipping numbers still held by pending calls.
// pendingMu must be held.
func (p *Peer) nextSeqLocked() (uint32, error) {
	for i := uint32(0); i < protocol.MaxSeq; i++ {
		p.seq++
		if p.seq > protocol.MaxSeq {
			p.seq = 1
		}
		if _, busy := p.pending[p.seq]; !busy {
			return p.seq, nil
		}
	}
	return 0, ErrTooManyPending
}

func (p *Peer) removePending(seq uint32) *call {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	c, ok := p.pending[seq]
	if !ok {
		return nil
	}
	delete(p.pending, seq)
	return c
}

// writeFrame submits one complete frame. Once the peer is closing no more
// frames are written.
func (p *Peer) writeFrame(frame []byte, kind protocol.Kind) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.isClosing() {
		return ErrPeerClosing
	}
	if err := p.stream.Write(frame); err != nil {
		if errors.Is(err, stream.ErrClosed) {
			return fmt.Errorf("%w: %w", ErrPeerClosing, err)
		}
		return fmt.Errorf("write %s frame: %w", kind, err)
	}
	p.metrics.frame("out", kind.String())
	return nil
}

func (p *Peer) isClosing() bool {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return p.closing
}

// readLoop is the only reader of the stream. Frames must be parsed
// sequentially; handlers run on their own goroutines so a slow handler never
// holds up the next frame.
func (p *Peer) readLoop() {
	var err error
	for {
		var f *protocol.Frame
		f, err = protocol.Decode(p.stream, p.maxFrameSize)
		if err != nil {
			break
		}
		p.metrics.frame("in", f.Kind.String())

		if f.Kind == protocol.KindRequest {
			go p.dispatch(f)
			continue
		}
		p.resolve(f)
	}
	p.stop(err)
}

// resolve completes the pending call matching a response frame. Responses
// for unknown sequence numbers (already timed out, or never issued) are
// dropped.
func (p *Peer) resolve(f *protocol.Frame) {
	c := p.removePending(f.Seq)
	if c == nil {
		p.metrics.responseDropped()
		p.log.Debug("dropping response without pending call", zap.Uint32("seq", f.Seq), zap.Stringer("kind", f.Kind))
		return
	}

	if f.Kind == protocol.KindError {
		c.done <- result{err: &protocol.Error{Code: f.Code, Message: f.Message}}
		return
	}
	c.done <- result{payload: f.Payload}
}

// dispatch serves one inbound request and writes its response.
func (p *Peer) dispatch(f *protocol.Frame) {
	req := &message.Request{ID: f.Seq, ServiceMethod: f.Method, Payload: f.Payload}
	if f.Seq&protocol.ErrorFlag != 0 {
		// the echoed ID carries bit 30, so the caller will parse the
		// response as an error frame
		p.log.Warn("request sequence number above MaxSeq",
			zap.String("method", f.Method),
			zap.Uint32("seq", f.Seq))
	}

	resp, err := p.serve(req)
	if err == nil && uint64(protocol.IDSize+len(resp)) > uint64(p.maxFrameSize) {
		err = protocol.Errorf(protocol.CodeInternalError, "response of %d bytes exceeds frame limit", len(resp))
	}

	var frame []byte
	kind := protocol.KindResponse
	if err != nil {
		var rpcErr *protocol.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &protocol.Error{Code: protocol.CodeInternalError, Message: err.Error()}
		}
		p.log.Debug("request failed",
			zap.String("method", req.ServiceMethod),
			zap.Uint32("seq", req.ID),
			zap.Stringer("code", rpcErr.Code),
			zap.String("error", rpcErr.Message))
		p.metrics.requestServed(req.ServiceMethod, rpcErr.Code.String())
		frame = protocol.EncodeError(req.ID, rpcErr.Code, rpcErr.Message)
		kind = protocol.KindError
	} else {
		p.metrics.requestServed(req.ServiceMethod, "ok")
		frame = protocol.EncodeResponse(req.ID, resp)
	}

	if err := p.writeFrame(frame, kind); err != nil && !errors.Is(err, ErrPeerClosing) {
		p.log.Warn("failed to write response", zap.Uint32("seq", req.ID), zap.Error(err))
	}
}

// serve runs the middleware chain, converting a panic anywhere in it into an
// internal error so one request cannot take the connection down.
func (p *Peer) serve(req *message.Request) (resp []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", zap.String("method", req.ServiceMethod), zap.Any("panic", r))
			resp, err = nil, protocol.Errorf(protocol.CodeInternalError, "panic: %v", r)
		}
	}()
	return p.handler(p.ctx, req)
}

// invoke is the innermost handler: it resolves "Service.Method" through the
// registry and calls the method.
func (p *Peer) invoke(ctx context.Context, req *message.Request) ([]byte, error) {
	serviceName, methodName, ok := req.Split()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeInvalidRequest, "invalid service method format: %q", req.ServiceMethod)
	}

	p.servicesMu.RLock()
	table, ok := p.services[serviceName]
	p.servicesMu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeMethodNotFound, "service %s not found", serviceName)
	}

	fn, ok := table.lookup(methodName)
	if !ok {
		return nil, protocol.Errorf(protocol.CodeMethodNotFound, "method %s not found", req.ServiceMethod)
	}
	return fn(ctx, req.Payload)
}

// Close shuts the peer down: every pending call fails with ErrPeerClosing,
// the stream is closed, and no further frames are written. In-flight frames
// are not flushed. Close is idempotent.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.failPending(ErrPeerClosing)
		p.cancel()
		p.closeErr = p.stream.Close()
	})
	return p.closeErr
}

// failPending marks the peer closing and fails every pending call with err.
// It reports whether the peer was already closing.
func (p *Peer) failPending(err error) bool {
	p.pendingMu.Lock()
	wasClosing := p.closing
	p.closing = true
	pending := p.pending
	p.pending = make(map[uint32]*call)
	p.pendingMu.Unlock()

	for _, c := range pending {
		c.done <- result{err: err}
	}
	return wasClosing
}

// stop runs when the read loop exits.
func (p *Peer) stop(cause error) {
	if p.failPending(fmt.Errorf("%w: %w", ErrPeerClosing, cause)) {
		// Close was called locally; the read error is its consequence
		p.err = ErrPeerClosing
		close(p.done)
		return
	}

	p.log.Warn("connection terminated", zap.Error(cause))
	p.err = cause
	p.cancel()
	p.closeOnce.Do(func() {
		p.closeErr = p.stream.Close()
	})

	p.closeHandlerMu.Lock()
	p.failure = cause
	p.closeHandlerMu.Unlock()
	close(p.done)
	p.notifyClose()
}

// notifyClose tells the close handler about the failure, at most once.
func (p *Peer) notifyClose() {
	p.closeHandlerMu.Lock()
	fn, failure := p.closeHandler, p.failure
	if fn == nil || failure == nil || p.notified {
		p.closeHandlerMu.Unlock()
		return
	}
	p.notified = true
	p.closeHandlerMu.Unlock()

	fn(failure)
}

func outcome(err error) string {
	var rpcErr *protocol.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.Is(err, ErrPeerClosing):
		return "closed"
	}
	return "local_error"
}
