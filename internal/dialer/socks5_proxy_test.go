package dialer

import (
	"context"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksbridge/internal/socks5"
	"github.com/die-net/socksbridge/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			gw := testutil.StartSOCKS5Gateway(t, ctx, socks5.Auth{Username: tt.user, Password: tt.pass}, nil)

			f := NewSOCKS5ProxyDialer(Config{NegotiationTimeout: 2 * time.Second}, gw.Addr().String(), tt.user, tt.pass)

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			if got := gw.Targets(); len(got) != 1 || got[0] != echoLn.Addr().String() {
				t.Fatalf("gateway targets %v", got)
			}
		})
	}
}

func TestSOCKS5ProxyDialerSendsHostname(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	gw := testutil.StartSOCKS5Gateway(t, ctx, socks5.Auth{}, map[string]string{
		"unresolvable.invalid:443": echoLn.Addr().String(),
	})

	f := NewSOCKS5ProxyDialer(Config{}, gw.Addr().String(), "", "")
	conn, err := f.DialContext(ctx, "tcp", "unresolvable.invalid:443")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("ping"))
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		// Swallow the handshake and never answer.
		buf := make([]byte, 64)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})

	f := NewSOCKS5ProxyDialer(Config{}, upLn.Addr().String(), "", "")

	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("dial did not return promptly after cancel")
	}

	waitUp()
}

func TestSOCKS5ProxyDialerHandshakeTimeout(t *testing.T) {
	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		buf := make([]byte, 64)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})

	f := NewSOCKS5ProxyDialer(Config{NegotiationTimeout: 100 * time.Millisecond}, upLn.Addr().String(), "", "")

	start := time.Now()
	_, err := f.DialContext(context.Background(), "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("handshake timeout not applied")
	}

	waitUp()
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if err := socks5.ServerNegotiate(c, socks5.Auth{}); err != nil {
			return
		}
		if _, err := socks5.ServerReadRequest(c); err != nil {
			return
		}
		socks5.WriteConnectionRefusedReply(c, txsocks5.ATYPIPv4)
	})

	f := NewSOCKS5ProxyDialer(Config{NegotiationTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")

	_, err := f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}

	waitUp()
}
