package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

const defaultSOCKS5Port = "1080"

// New builds the outbound Dialer a listener relays through.
//
// Accepted upstreams:
//   - direct://
//   - socks5://[user:pass@]host[:port]  (port defaults to 1080)
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid url: path should be empty")
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "direct":
		return NewDirectDialer(cfg), nil
	case "socks5":
		addr, user, pass, err := socks5Target(u)
		if err != nil {
			return nil, err
		}
		return NewSOCKS5ProxyDialer(cfg, addr, user, pass), nil
	case "":
		return nil, errors.New("invalid url: missing scheme")
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", scheme)
	}
}

// socks5Target extracts the gateway address and credentials from a socks5 URL.
func socks5Target(u *url.URL) (addr, user, pass string, err error) {
	host := u.Hostname()
	if host == "" {
		return "", "", "", errors.New("invalid url: missing host")
	}
	port := u.Port()
	if port == "" {
		port = defaultSOCKS5Port
	}
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	return net.JoinHostPort(host, port), user, pass, nil
}
