package peer

import (
	"github.com/google/uuid"
	"github.com/jibuji/go-stream-rpc/middleware"
	"github.com/jibuji/go-stream-rpc/protocol"
	"go.uber.org/zap"
)

type options struct {
	id           string
	logger       *zap.Logger
	maxFrameSize uint32
	middlewares  []middleware.Middleware
	metrics      *Metrics
	services     map[string]Service
}

// Option configures a Peer.
type Option func(*options)

// WithID names the peer in logs. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxFrameSize bounds inbound and outbound frames. Larger inbound frames
// terminate the connection; larger outbound payloads fail locally.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// WithMiddleware wraps inbound request handling, in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithMetrics records call and frame statistics. One Metrics value may be
// shared by many peers.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithService registers svc under name before the read loop starts, so
// requests arriving on the very first frames find it.
func WithService(name string, svc Service) Option {
	return func(o *options) {
		if o.services == nil {
			o.services = make(map[string]Service)
		}
		o.services[name] = svc
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:       zap.NewNop(),
		maxFrameSize: protocol.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	return o
}
