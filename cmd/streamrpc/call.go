package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jibuji/go-stream-rpc/calculator"
	"github.com/jibuji/go-stream-rpc/peer"
	"github.com/jibuji/go-stream-rpc/transport"
	"github.com/spf13/cobra"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <add|multiply> <a> <b>",
	Short: "Call Adder on a remote peer while serving Adder locally",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := strings.ToLower(args[0])
		if op != "add" && op != "multiply" {
			return fmt.Errorf("unknown operation %q", args[0])
		}
		a, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("operand a: %w", err)
		}
		b, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("operand b: %w", err)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = rt.log.Sync() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		p, err := dial(ctx, rt)
		if err != nil {
			return err
		}
		defer p.Close()

		c := calculator.NewClient(p)
		var result int64
		if op == "add" {
			result, err = c.Add(ctx, a, b)
		} else {
			result, err = c.Multiply(ctx, a, b)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "overall call timeout")
}

// dial connects to the configured remote and starts a peer that serves
// Adder, so the remote side can call back.
func dial(ctx context.Context, rt *runtime) (*peer.Peer, error) {
	tc := rt.cfg.Transport
	kind, err := transport.ParseKind(tc.Kind)
	if err != nil {
		return nil, err
	}

	d := &transport.Dialer{KeepAlive: time.Duration(tc.KeepAlive), StreamOptions: rt.streamOptions()}
	if kind == transport.KindLibp2p {
		h, err := transport.NewHost()
		if err != nil {
			return nil, err
		}
		d.Libp2p = &transport.Libp2pDialer{Host: h}
	}

	st, err := d.Dial(ctx, kind, tc.Dial)
	if err != nil {
		if d.Libp2p != nil {
			_ = d.Libp2p.Host.Close()
		}
		return nil, err
	}
	opts := append(rt.peerOptions(), peer.WithService(calculator.ServiceName, calculator.NewService()))
	p := peer.New(st, opts...)
	if d.Libp2p != nil {
		h := d.Libp2p.Host
		go func() {
			<-p.Done()
			_ = h.Close()
		}()
	}
	return p, nil
}
