package conn

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies keepAliveConfig to accepted TCP connections. If idleTimeout is
// positive, accepted connections are closed after that much inactivity.
func ListenTCP(ctx context.Context, network, addr string, keepAliveConfig net.KeepAliveConfig, idleTimeout time.Duration) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig, IdleTimeout: idleTimeout}, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn. Accepted connections are wrapped by NewIdleConn so
// the inactivity timeout can later be changed per connection.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
	IdleTimeout time.Duration
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	ApplyKeepAlive(c, l.KeepAliveConfig)

	return NewIdleConn(c, l.IdleTimeout), nil
}

// ApplyKeepAlive sets ka on c if it is a TCP connection.
func ApplyKeepAlive(c net.Conn, ka net.KeepAliveConfig) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(ka)
	}
}
