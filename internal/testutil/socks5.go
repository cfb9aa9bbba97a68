package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksbridge/internal/socks5"
)

// SOCKS5Gateway is a minimal SOCKS5 CONNECT server for tests. It records the
// destination of every CONNECT request it receives.
type SOCKS5Gateway struct {
	ln       net.Listener
	auth     socks5.Auth
	redirect map[string]string

	mu      sync.Mutex
	targets []string
	wg      sync.WaitGroup
}

// StartSOCKS5Gateway starts a gateway on a loopback port. Requests whose
// destination is a key of redirect are connected to the mapped address
// instead, so tests can use names that do not resolve. The gateway is closed
// when the test ends.
func StartSOCKS5Gateway(t *testing.T, ctx context.Context, auth socks5.Auth, redirect map[string]string) *SOCKS5Gateway {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	g := &SOCKS5Gateway{ln: ln, auth: auth, redirect: redirect}
	g.wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			g.wg.Go(func() {
				defer c.Close()
				g.serve(ctx, c)
			})
		}
	})
	t.Cleanup(g.Close)

	return g
}

func (g *SOCKS5Gateway) Addr() *net.TCPAddr {
	return g.ln.Addr().(*net.TCPAddr)
}

// Targets returns the destinations requested so far, in arrival order.
func (g *SOCKS5Gateway) Targets() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.targets...)
}

// Close stops accepting and waits for in-flight sessions to end.
func (g *SOCKS5Gateway) Close() {
	_ = g.ln.Close()
	g.wg.Wait()
}

func (g *SOCKS5Gateway) serve(ctx context.Context, c net.Conn) {
	if err := socks5.ServerNegotiate(c, g.auth); err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(c, req.Atyp)
		return
	}

	target := req.Address()
	g.mu.Lock()
	g.targets = append(g.targets, target)
	g.mu.Unlock()

	if to, ok := g.redirect[target]; ok {
		target = to
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		socks5.WriteConnectionRefusedReply(c, txsocks5.ATYPIPv4)
		return
	}
	defer dst.Close()

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return
	}

	// Close dst when ctx ends so the copies below return.
	stop := context.AfterFunc(ctx, func() { _ = dst.Close(); _ = c.Close() })
	defer stop()

	go func() {
		_, _ = io.Copy(dst, c)
		if tc, ok := dst.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	_, _ = io.Copy(c, dst)
}
