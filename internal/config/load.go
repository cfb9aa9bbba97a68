package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// MaxTimeoutMs is the largest millisecond timeout that fits a time.Duration.
const MaxTimeoutMs = math.MaxInt64 / int64(time.Millisecond)

// Load reads, decodes, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected so typos in
// listener fields don't silently open a listener.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills listener fields that have a fixed default. Timeout
// defaults are resolved later by the proxy's tuning policy so that a nil
// value stays distinguishable from an explicit zero.
func ApplyDefaults(cfg *Config) {
	for i := range cfg.Listeners {
		l := &cfg.Listeners[i]
		if l.SOCKSHost != "" && l.SOCKSPort == 0 {
			l.SOCKSPort = DefaultSOCKSPort
		}
	}
}

// Validate checks listener ports and timeout values.
func Validate(cfg *Config) error {
	seen := make(map[int]bool, len(cfg.Listeners))
	for i, l := range cfg.Listeners {
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("%w: httpsProxyListeners[%d]: valid port number is required", ErrInvalid, i)
		}
		if seen[l.Port] {
			return fmt.Errorf("%w: httpsProxyListeners[%d]: duplicate port %d", ErrInvalid, i, l.Port)
		}
		seen[l.Port] = true

		if l.SOCKSPort < 0 || l.SOCKSPort > 65535 {
			return fmt.Errorf("%w: httpsProxyListeners[%d]: invalid SOCKS_PORT %d", ErrInvalid, i, l.SOCKSPort)
		}
		if l.SOCKSHost == "" && (l.SOCKSUsername != "" || l.SOCKSPassword != "") {
			return fmt.Errorf("%w: httpsProxyListeners[%d]: SOCKS credentials without SOCKS_HOST", ErrInvalid, i)
		}
	}

	t := cfg.Timeouts
	for name, v := range map[string]*int64{
		"timeouts.server.requestTimeout":          t.Server.RequestTimeout,
		"timeouts.server.headersTimeout":          t.Server.HeadersTimeout,
		"timeouts.server.keepAliveTimeout":        t.Server.KeepAliveTimeout,
		"timeouts.server.socketTimeout":           t.Server.SocketTimeout,
		"timeouts.socket.idleTimeout":             t.Socket.IdleTimeout,
		"timeouts.socket.keepAliveInitialDelayMs": t.Socket.KeepAliveInitialDelayMs,
		"timeouts.socks.handshakeTimeoutMs":       t.SOCKS.HandshakeTimeoutMs,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalid, name)
		}
		if v != nil && *v > MaxTimeoutMs {
			return fmt.Errorf("%w: %s must be <= %d", ErrInvalid, name, MaxTimeoutMs)
		}
	}
	return nil
}
