package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jibuji/go-stream-rpc/config"
	"github.com/jibuji/go-stream-rpc/logging"
	"github.com/jibuji/go-stream-rpc/middleware"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/protocol"
	"github.com/jibuji/go-stream-rpc/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// runtime is what both subcommands share: config, logger, metrics.
type runtime struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *peer.Metrics
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := peer.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: logger, registry: reg, metrics: m}, nil
}

// peerOptions turns the peer section into engine options.
func (r *runtime) peerOptions() []peer.Option {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(r.log)}
	if r.cfg.Peer.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(r.cfg.Peer.RateLimit, r.cfg.Peer.Burst))
	}
	if d := time.Duration(r.cfg.Peer.HandlerTimeout); d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}
	return []peer.Option{
		peer.WithLogger(r.log),
		peer.WithMaxFrameSize(r.cfg.Peer.MaxFrameSize),
		peer.WithMetrics(r.metrics),
		peer.WithMiddleware(mws...),
	}
}

// streamOptions sizes adapters to the configured frame limit.
func (r *runtime) streamOptions() []stream.Option {
	maxFrame := r.cfg.Peer.MaxFrameSize
	if maxFrame == 0 {
		maxFrame = protocol.DefaultMaxFrameSize
	}
	return []stream.Option{
		stream.WithLogger(r.log),
		stream.WithMessageLimit(int64(protocol.LengthSize) + int64(maxFrame)),
	}
}

// serveMetrics exposes /metrics until ctx is done. It does nothing when no
// metrics address is configured.
func (r *runtime) serveMetrics(ctx context.Context) {
	if r.cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: r.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		r.log.Info("metrics listening", zap.String("addr", r.cfg.Metrics.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("metrics server failed", zap.Error(err))
		}
	}()
}
