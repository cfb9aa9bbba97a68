package dialer

import (
	"net"
	"time"
)

// Config carries the dial-side tuning for outbound connections.
type Config struct {
	// DialTimeout bounds a direct TCP connect. Zero means no limit.
	DialTimeout time.Duration
	// NegotiationTimeout bounds connecting to a SOCKS5 gateway plus the
	// SOCKS5 handshake. Zero means no limit.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
}

// netDialer returns a net.Dialer honoring cfg.KeepAlive. A disabled
// KeepAliveConfig alone would still get the default probes.
func netDialer(timeout time.Duration, ka net.KeepAliveConfig) *net.Dialer {
	d := &net.Dialer{Timeout: timeout, KeepAliveConfig: ka}
	if !ka.Enable {
		d.KeepAlive = -1
	}
	return d
}
