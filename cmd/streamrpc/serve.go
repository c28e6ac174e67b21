package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jibuji/go-stream-rpc/calculator"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/server"
	"github.com/jibuji/go-stream-rpc/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Adder and call back into every connecting peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = rt.log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		rt.serveMetrics(ctx)

		svr := server.NewServer(
			server.WithLogger(rt.log),
			server.WithPeerOptions(rt.peerOptions()...),
			server.WithStreamOptions(rt.streamOptions()...),
			server.WithKeepAlive(time.Duration(cfg.Transport.KeepAlive)),
		)
		svr.RegisterName(calculator.ServiceName, calculator.NewService())
		svr.OnPeer(func(p *peer.Peer) { callBack(ctx, rt.log, p) })

		errc := make(chan error, 1)
		if err := listen(ctx, rt, svr, errc); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
		case err := <-errc:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				_ = svr.Shutdown(shutdownTimeout)
				return err
			}
		}
		rt.log.Info("shutting down")
		return svr.Shutdown(shutdownTimeout)
	},
}

// listen starts accepting on the configured transport. Serving errors are
// reported on errc.
func listen(ctx context.Context, rt *runtime, svr *server.Server, errc chan<- error) error {
	tc := rt.cfg.Transport
	kind, err := transport.ParseKind(tc.Kind)
	if err != nil {
		return err
	}

	switch kind {
	case transport.KindTCP:
		l, err := net.Listen("tcp", tc.Listen)
		if err != nil {
			return err
		}
		rt.log.Info("listening", zap.String("transport", "tcp"), zap.Stringer("addr", l.Addr()))
		go func() { errc <- svr.Serve(l) }()

	case transport.KindWebSocket:
		mux := http.NewServeMux()
		mux.Handle(tc.WSPath, svr.WebSocketHandler())
		hs := &http.Server{Addr: tc.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			_ = hs.Close()
		}()
		rt.log.Info("listening", zap.String("transport", "ws"), zap.String("addr", tc.Listen), zap.String("path", tc.WSPath))
		go func() { errc <- hs.ListenAndServe() }()

	case transport.KindLibp2p:
		h, err := transport.NewHost(tc.Listen)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			_ = h.Close()
		}()
		svr.ServeLibp2p(h)
		addrs, err := transport.HostAddrs(h)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Println(a)
		}
		rt.log.Info("listening", zap.String("transport", "libp2p"), zap.Strings("addrs", addrs))
	}
	return nil
}

// callBack exercises the reverse direction: the accepting peer calls Adder
// on the peer that connected.
func callBack(ctx context.Context, log *zap.Logger, p *peer.Peer) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sum, err := calculator.NewClient(p).Add(ctx, 1, 2)
	if err != nil {
		log.Warn("callback failed", zap.String("peer", p.ID()), zap.Error(err))
		return
	}
	log.Info("callback served", zap.String("peer", p.ID()), zap.Int64("sum", sum))
}
