package conn

import (
	"net"
	"sync"
	"time"
)

// IdleConn closes the wrapped connection when no Read or Write has completed
// for the configured timeout. Unlike deadlines it composes with the deadlines
// that net/http sets on its connections.
type IdleConn struct {
	net.Conn

	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	closed  bool
}

// NewIdleConn wraps c. A non-positive timeout disables the idle close until
// SetIdleTimeout is called with a positive value.
func NewIdleConn(c net.Conn, timeout time.Duration) *IdleConn {
	ic := &IdleConn{Conn: c}
	ic.SetIdleTimeout(timeout)
	return ic
}

// SetIdleTimeout replaces the inactivity timeout and restarts the clock.
func (c *IdleConn) SetIdleTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.timeout = d
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if d > 0 {
		c.timer = time.AfterFunc(d, func() { _ = c.Close() })
	}
}

// IdleTimeout returns the current inactivity timeout.
func (c *IdleConn) IdleTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *IdleConn) touch() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Reset(c.timeout)
	}
	c.mu.Unlock()
}

func (c *IdleConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.touch()
	}
	return n, err
}

func (c *IdleConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.touch()
	}
	return n, err
}

func (c *IdleConn) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.Conn.Close()
}

// SetIdleTimeout adjusts the inactivity timeout of c when c, or the
// connection it wraps, is an *IdleConn. It reports whether one was found.
func SetIdleTimeout(c net.Conn, d time.Duration) bool {
	for c != nil {
		switch v := c.(type) {
		case *IdleConn:
			v.SetIdleTimeout(d)
			return true
		case interface{ NetConn() net.Conn }:
			c = v.NetConn()
		default:
			return false
		}
	}
	return false
}
