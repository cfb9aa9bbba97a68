package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/http/httputil"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/die-net/socksbridge/internal/conn"
)

// Request headers not copied onto the hand-built upstream request. Framing and
// connection management are written explicitly.
var skipRequestHeaders = map[string]bool{
	"Host":                true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authorization": true,
	"Content-Length":      true,
	"Transfer-Encoding":   true,
	"Te":                  true,
	"Trailer":             true,
	"Upgrade":             true,
	"Expect":              true,
}

// forwardSOCKS relays an absolute-URI request through the listener's SOCKS5
// gateway. There is no http.Transport over the tunneled socket, so the
// request is written by hand and the response head is framed by
// responseParser. The body is passed through verbatim until the upstream
// closes.
func (s *HTTPProxyServer) forwardSOCKS(w http.ResponseWriter, r *http.Request, cc *connContext) {
	ctx := r.Context()

	d, err := s.dialer(cc)
	if err != nil {
		s.upstreamFailed(w, cc, err)
		return
	}
	upstream, err := d.DialContext(ctx, "tcp", cc.target)
	if err != nil {
		s.upstreamFailed(w, cc, err)
		return
	}
	upstream = conn.NewIdleConn(upstream, cc.policy.IdleTimeout)

	if r.URL.Scheme == "https" {
		upstream, err = s.clientTLS(ctx, upstream, r.URL.Hostname(), cc.policy.HandshakeTimeout)
		if err != nil {
			s.upstreamFailed(w, cc, err)
			return
		}
	}
	defer upstream.Close()

	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()

	// The body upload runs alongside reading the response.
	_ = http.NewResponseController(w).EnableFullDuplex()

	uploaded := make(chan error, 1)
	go func() {
		uploaded <- writeProxiedRequest(upstream, r)
	}()

	p := newResponseParser()
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)

	for {
		n, rerr := upstream.Read(buf)
		if n > 0 {
			head, body, err := p.Feed(buf[:n])
			if err != nil {
				_ = upstream.Close()
				s.upstreamFailed(w, cc, err)
				return
			}
			if head != nil {
				s.streamResponse(w, cc, upstream, head, body, uploaded)
				return
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = io.ErrUnexpectedEOF
			}
			_ = upstream.Close()
			s.upstreamFailed(w, cc, fmt.Errorf("read response head: %w", rerr))
			return
		}
	}
}

// streamResponse takes over the client connection once the upstream head is
// known. Nothing can be reported to the client after this point, so failures
// just end the response.
func (s *HTTPProxyServer) streamResponse(w http.ResponseWriter, cc *connContext, upstream net.Conn, head *responseHead, body []byte, uploaded <-chan error) {
	// The request body must be fully consumed before hijacking.
	if err := <-uploaded; err != nil {
		cc.log.Debug().Err(err).Msg("request upload ended early")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		cc.log.Error().Msg("hijacking not supported")
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		cc.log.Warn().Err(err).Msg("hijack failed")
		return
	}
	defer clientConn.Close()
	_ = clientConn.SetDeadline(time.Time{})
	conn.SetIdleTimeout(clientConn, cc.policy.IdleTimeout)

	writeResponseHead(brw.Writer, head)
	_, _ = brw.Write(body)
	if err := brw.Flush(); err != nil {
		cc.log.Debug().Err(err).Msg("client write failed")
		return
	}

	// The client sends nothing more, but its close must end the upstream leg.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_, _ = io.Copy(io.Discard, clientConn)
		_ = upstream.Close()
	}()

	n, err := copyBuffer(clientConn, upstream)
	_ = clientConn.Close()
	<-watchDone
	s.opts.Metrics.Relayed(dirDownstream, n+int64(len(body)))
	cc.log.Debug().Err(err).Int("status", head.StatusCode).Int64("bytes", n+int64(len(body))).Msg("response relayed")
}

func (s *HTTPProxyServer) upstreamFailed(w http.ResponseWriter, cc *connContext, err error) {
	s.opts.Metrics.UpstreamError(s.spec.Port, cc.mode)
	cc.log.Warn().Err(err).Msg("upstream request failed")
	http.Error(w, err.Error(), http.StatusBadGateway)
}

// clientTLS layers a TLS client session for serverName over c.
func (s *HTTPProxyServer) clientTLS(ctx context.Context, c net.Conn, serverName string, timeout time.Duration) (net.Conn, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.opts.UpstreamTLS != nil {
		cfg = s.opts.UpstreamTLS.Clone()
	}
	cfg.ServerName = serverName
	cfg.NextProtos = []string{"http/1.1"}

	tc := tls.Client(c, cfg)
	if timeout > 0 {
		_ = tc.SetDeadline(time.Now().Add(timeout))
	}
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = tc.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", serverName, err)
	}
	_ = tc.SetDeadline(time.Time{})
	return tc, nil
}

// writeProxiedRequest serializes r as an origin-form HTTP/1.1 request on w and
// streams its body. A chunked client body is re-chunked; otherwise the body
// is sent with its Content-Length.
func writeProxiedRequest(w io.Writer, r *http.Request) error {
	chunked := r.ContentLength < 0
	hasBody := r.Body != nil && r.Body != http.NoBody

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())
	fmt.Fprintf(bw, "Host: %s\r\n", r.URL.Host)
	for _, name := range slices.Sorted(maps.Keys(r.Header)) {
		if skipRequestHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range r.Header[name] {
			fmt.Fprintf(bw, "%s: %s\r\n", name, v)
		}
	}
	switch {
	case chunked && hasBody:
		bw.WriteString("Transfer-Encoding: chunked\r\n")
	case r.ContentLength > 0 || methodSendsLength(r.Method):
		bw.WriteString("Content-Length: " + strconv.FormatInt(max(r.ContentLength, 0), 10) + "\r\n")
	}
	bw.WriteString("Connection: close\r\n\r\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write request head: %w", err)
	}

	if !hasBody {
		return nil
	}
	if chunked {
		cw := httputil.NewChunkedWriter(w)
		if _, err := copyBuffer(cw, r.Body); err != nil {
			return fmt.Errorf("write request body: %w", err)
		}
		if err := cw.Close(); err != nil {
			return fmt.Errorf("write request body: %w", err)
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	}
	if r.ContentLength > 0 {
		if _, err := copyBuffer(w, r.Body); err != nil {
			return fmt.Errorf("write request body: %w", err)
		}
	}
	return nil
}

func methodSendsLength(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// writeResponseHead replays the upstream status line and headers. The
// connection is always closed after the body, so upstream connection
// management headers are replaced.
func writeResponseHead(w *bufio.Writer, head *responseHead) {
	_, _ = w.Write(head.StatusLine)
	_, _ = w.WriteString("\r\n")
	for _, f := range head.Header {
		if strings.EqualFold(f.Name, "Connection") || strings.EqualFold(f.Name, "Keep-Alive") {
			continue
		}
		_, _ = w.WriteString(f.Name + ": " + f.Value + "\r\n")
	}
	_, _ = w.WriteString("Connection: close\r\n\r\n")
}
