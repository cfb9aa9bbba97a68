package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/socksbridge/internal/socks5"
)

// SOCKS5ProxyDialer dials outbound TCP connections through a SOCKS5 gateway
// using the CONNECT command.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
}

// NewSOCKS5ProxyDialer constructs a dialer for the gateway at proxyAddr. If
// username is non-empty, RFC 1929 username/password authentication is
// offered.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
	}
}

// ProxyAddr returns the gateway host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext connects to the gateway and asks it to CONNECT to address. The
// target host is sent unresolved so the gateway does name resolution.
//
// If NegotiationTimeout is set, it bounds both the TCP connect to the gateway
// and the handshake. The deadline is cleared before returning.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	dd := netDialer(f.cfg.NegotiationTimeout, f.cfg.KeepAlive)
	c, err := dd.DialContext(ctx, "tcp", f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", f.proxyAddr, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	// Unblock the handshake if ctx is canceled mid-negotiation.
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })

	err = socks5.ClientDial(c, f.auth, address)
	if !stop() {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, context.Cause(ctx))
	}
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	_ = c.SetDeadline(time.Time{})
	return c, nil
}
