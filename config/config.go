// Package config loads the streamrpc binary's configuration: JSON on disk,
// defaults for everything missing, command-line flags on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jibuji/go-stream-rpc/logging"
	"github.com/jibuji/go-stream-rpc/protocol"
	"github.com/jibuji/go-stream-rpc/transport"
)

// Duration is a time.Duration written as a string ("30s") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Transport struct {
	Kind string `json:"kind"` // tcp, ws, libp2p
	// Listen is a host:port for tcp and ws, a multiaddr for libp2p.
	Listen string `json:"listen"`
	// Dial is a host:port, a ws:// URL, or a multiaddr ending in /p2p/<id>.
	Dial      string   `json:"dial"`
	WSPath    string   `json:"ws_path"`
	KeepAlive Duration `json:"keep_alive"`
}

type Peer struct {
	MaxFrameSize   uint32   `json:"max_frame_size"`
	HandlerTimeout Duration `json:"handler_timeout"`
	// RateLimit caps inbound requests per second; zero disables it.
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
}

type Metrics struct {
	// Listen serves /metrics when set.
	Listen string `json:"listen"`
}

type Config struct {
	Transport Transport       `json:"transport"`
	Peer      Peer            `json:"peer"`
	Log       logging.Options `json:"log"`
	Metrics   Metrics         `json:"metrics"`
}

// Default returns a configuration that runs a tcp peer on localhost.
func Default() *Config {
	return &Config{
		Transport: Transport{
			Kind:      string(transport.KindTCP),
			Listen:    "127.0.0.1:7070",
			Dial:      "127.0.0.1:7070",
			WSPath:    "/rpc",
			KeepAlive: Duration(30 * time.Second),
		},
		Peer: Peer{
			MaxFrameSize:   protocol.DefaultMaxFrameSize,
			HandlerTimeout: Duration(30 * time.Second),
			Burst:          100,
		},
		Log: logging.Options{
			Level:      "info",
			Console:    true,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads a JSON file over Default. Fields absent from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := transport.ParseKind(c.Transport.Kind); err != nil {
		errs = append(errs, err)
	}
	if c.Transport.KeepAlive < 0 {
		errs = append(errs, errors.New("transport.keep_alive must not be negative"))
	}
	if c.Peer.MaxFrameSize != 0 && c.Peer.MaxFrameSize < protocol.IDSize+1 {
		errs = append(errs, fmt.Errorf("peer.max_frame_size %d is too small", c.Peer.MaxFrameSize))
	}
	if c.Peer.HandlerTimeout < 0 {
		errs = append(errs, errors.New("peer.handler_timeout must not be negative"))
	}
	if c.Peer.RateLimit < 0 {
		errs = append(errs, errors.New("peer.rate_limit must not be negative"))
	}
	if c.Peer.RateLimit > 0 && c.Peer.Burst <= 0 {
		errs = append(errs, errors.New("peer.burst must be positive when rate_limit is set"))
	}
	return errors.Join(errs...)
}
