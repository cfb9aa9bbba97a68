package proxy

import (
	"net"
	"time"

	"github.com/die-net/socksbridge/internal/config"
	"github.com/die-net/socksbridge/internal/dialer"
)

// Defaults favor long-lived tunnels: a CONNECT tunnel is a bulk byte pipe
// with no natural request boundary.
const (
	DefaultRequestTimeout   = 0
	DefaultHeadersTimeout   = 24 * time.Hour
	DefaultKeepAliveTimeout = 24 * time.Hour
	DefaultSocketTimeout    = 0
	DefaultIdleTimeout      = 0
	DefaultKeepAliveDelay   = 60 * time.Second
	DefaultHandshakeTimeout = 24 * time.Hour
)

// TimeoutPolicy is the effective socket tuning for one listener or relay.
// Zero durations disable the corresponding timeout.
type TimeoutPolicy struct {
	// RequestTimeout bounds reading a whole request (http.Server.ReadTimeout).
	RequestTimeout time.Duration
	// HeadersTimeout bounds reading request headers.
	HeadersTimeout time.Duration
	// KeepAliveTimeout is how long an idle keep-alive client connection is kept.
	KeepAliveTimeout time.Duration
	// SocketTimeout closes accepted connections after this much inactivity.
	SocketTimeout time.Duration

	// IdleTimeout closes a relay leg after this much inactivity.
	IdleTimeout    time.Duration
	KeepAlive      bool
	KeepAliveDelay time.Duration

	// HandshakeTimeout bounds reaching the SOCKS5 gateway and negotiating.
	HandshakeTimeout time.Duration
}

// ResolveTimeouts applies defaults to the millisecond values in t.
func ResolveTimeouts(t config.Timeouts) TimeoutPolicy {
	p := TimeoutPolicy{
		RequestTimeout:   millis(t.Server.RequestTimeout, DefaultRequestTimeout),
		HeadersTimeout:   millis(t.Server.HeadersTimeout, DefaultHeadersTimeout),
		KeepAliveTimeout: millis(t.Server.KeepAliveTimeout, DefaultKeepAliveTimeout),
		SocketTimeout:    millis(t.Server.SocketTimeout, DefaultSocketTimeout),
		IdleTimeout:      millis(t.Socket.IdleTimeout, DefaultIdleTimeout),
		KeepAlive:        true,
		KeepAliveDelay:   millis(t.Socket.KeepAliveInitialDelayMs, DefaultKeepAliveDelay),
		HandshakeTimeout: millis(t.SOCKS.HandshakeTimeoutMs, DefaultHandshakeTimeout),
	}
	if t.Socket.KeepAlive != nil {
		p.KeepAlive = *t.Socket.KeepAlive
	}
	return p
}

func millis(v *int64, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return time.Duration(min(*v, config.MaxTimeoutMs)) * time.Millisecond
}

// KeepAliveConfig returns the TCP keep-alive settings for both legs.
func (p TimeoutPolicy) KeepAliveConfig() net.KeepAliveConfig {
	if !p.KeepAlive {
		return net.KeepAliveConfig{Enable: false}
	}
	return net.KeepAliveConfig{Enable: true, Idle: p.KeepAliveDelay}
}

// DialerConfig returns the outbound dial settings under this policy.
func (p TimeoutPolicy) DialerConfig(dialTimeout time.Duration) dialer.Config {
	return dialer.Config{
		DialTimeout:        dialTimeout,
		NegotiationTimeout: p.HandshakeTimeout,
		KeepAlive:          p.KeepAliveConfig(),
	}
}
