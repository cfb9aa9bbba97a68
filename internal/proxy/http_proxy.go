package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/socksbridge/internal/config"
	"github.com/die-net/socksbridge/internal/conn"
	"github.com/die-net/socksbridge/internal/dialer"
	"github.com/die-net/socksbridge/internal/logging"
	"github.com/die-net/socksbridge/internal/metrics"
)

const (
	proxyAgent = "socksbridge"

	modeDirect = "direct"
	modeSOCKS5 = "socks5"

	defaultConnectPort  = "443"
	upstreamIdleTimeout = 90 * time.Second
)

// Options configures every listener a Manager starts.
type Options struct {
	// DialTimeout bounds direct TCP connects. Zero means no limit.
	DialTimeout time.Duration
	// Domains gates destinations. Nil allows everything.
	Domains DomainPolicy
	// UpstreamTLS is the client TLS config for https origins. Nil uses the
	// system roots.
	UpstreamTLS *tls.Config
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// HTTPProxyServer serves one TLS proxy listener.
//
// It supports:
// - HTTP CONNECT tunneling (via connection hijacking + bidirectional copy)
// - absolute-URI forwarding, directly via httputil.ReverseProxy or through
// the listener's SOCKS5 gateway
type HTTPProxyServer struct {
	ctx    context.Context
	spec   config.ListenerSpec
	store  config.Store
	policy TimeoutPolicy
	mask   bool
	opts   Options
	log    zerolog.Logger

	srv       *http.Server
	rp        *httputil.ReverseProxy
	transport *http.Transport
}

// NewHTTPProxyServer constructs the server for spec. policy and mask are the
// values in force when the listener is created; each request re-reads store
// and only falls back to them if that read fails.
func NewHTTPProxyServer(ctx context.Context, spec config.ListenerSpec, store config.Store, cfg *config.Config, opts Options) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Domains == nil {
		opts.Domains = AllowAll{}
	}

	policy := ResolveTimeouts(cfg.Timeouts)
	h := &HTTPProxyServer{
		ctx:    ctx,
		spec:   spec,
		store:  store,
		policy: policy,
		mask:   cfg.MaskProxyAuth,
		opts:   opts,
		log:    opts.Logger.With().Int("listener", spec.Port).Logger(),
	}
	h.transport = newTransport(policy.DialerConfig(opts.DialTimeout), opts.UpstreamTLS)
	h.rp = h.newReverseProxy()
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadTimeout:       policy.RequestTimeout,
		ReadHeaderTimeout: policy.HeadersTimeout,
		IdleTimeout:       policy.KeepAliveTimeout,
		ErrorLog:          log.New(logging.Writer{Logger: h.log, Level: zerolog.WarnLevel}, "", 0),
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

// Serve serves proxy requests on ln, which should already terminate TLS.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops connection reuse and drops idle client and pooled upstream
// connections. Requests in flight and hijacked tunnels run to completion on
// their own connections. The caller closes the listener.
func (s *HTTPProxyServer) Shutdown() {
	s.srv.SetKeepAlivesEnabled(false)
	s.transport.CloseIdleConnections()
}

// connContext is the per-request state shared by the relays.
type connContext struct {
	id     string
	target string
	mode   string
	policy TimeoutPolicy
	log    zerolog.Logger
}

func (s *HTTPProxyServer) newConnContext(r *http.Request, target string, policy TimeoutPolicy) *connContext {
	cc := &connContext{
		id:     uuid.NewString(),
		target: target,
		mode:   modeDirect,
		policy: policy,
	}
	if s.spec.UsesSOCKS() {
		cc.mode = modeSOCKS5
	}
	cc.log = s.log.With().
		Str("conn", cc.id).
		Str("client", r.RemoteAddr).
		Str("method", r.Method).
		Str("target", target).
		Str("mode", cc.mode).
		Logger()
	return cc
}

// current returns the live timeout policy and auth masking flag.
func (s *HTTPProxyServer) current() (TimeoutPolicy, bool) {
	cfg, err := s.store.Read()
	if err != nil {
		s.log.Warn().Err(err).Msg("config read failed, using listener defaults")
		return s.policy, s.mask
	}
	return ResolveTimeouts(cfg.Timeouts), cfg.MaskProxyAuth
}

func (s *HTTPProxyServer) dialer(cc *connContext) (dialer.Dialer, error) {
	return dialer.New(cc.policy.DialerConfig(s.opts.DialTimeout), s.spec.UpstreamURL())
}

func (s *HTTPProxyServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handleForward(w, r)
}

func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.opts.Metrics.Request(s.spec.Port, metrics.KindConnect)

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()
	_ = clientConn.SetDeadline(time.Time{})

	policy, mask := s.current()
	cc := s.newConnContext(r, connectTarget(r.Host), policy)
	ctx := r.Context()

	if _, ok := Authenticate(r.Header, s.spec); !ok {
		s.opts.Metrics.AuthFailure(s.spec.Port)
		cc.log.Info().Bool("masked", mask).Msg("proxy authentication failed")
		_ = writeRawAuthFailure(brw, mask)
		_ = brw.Flush()
		return
	}

	host, _, err := net.SplitHostPort(cc.target)
	if err != nil || host == "" {
		_ = writeRawError(brw, nil, http.StatusBadRequest)
		_ = brw.Flush()
		return
	}
	if !s.opts.Domains.Allow(ctx, host) {
		cc.log.Info().Msg("destination not allowed")
		_ = writeRawError(brw, nil, http.StatusForbidden)
		_ = brw.Flush()
		return
	}

	conn.SetIdleTimeout(clientConn, policy.IdleTimeout)

	d, err := s.dialer(cc)
	var upstream net.Conn
	if err == nil {
		upstream, err = d.DialContext(ctx, "tcp", cc.target)
	}
	if err != nil {
		s.opts.Metrics.UpstreamError(s.spec.Port, cc.mode)
		cc.log.Warn().Err(err).Msg("upstream connect failed")
		_ = writeRawError(brw, err, http.StatusBadGateway)
		_ = brw.Flush()
		return
	}
	upstream = conn.NewIdleConn(upstream, policy.IdleTimeout)

	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\nProxy-Agent: " + proxyAgent + "\r\n\r\n")
	if err := brw.Flush(); err != nil {
		_ = upstream.Close()
		return
	}

	// Bytes the client sent right behind the CONNECT head go out first.
	if err := flushBuffered(brw.Reader, upstream); err != nil {
		_ = upstream.Close()
		return
	}

	done := s.opts.Metrics.TunnelOpened()
	defer done()

	cc.log.Debug().Msg("tunnel established")
	err = CopyBidirectional(ctx, clientConn, upstream, s.opts.Metrics)
	cc.log.Debug().Err(err).Msg("tunnel closed")
}

func flushBuffered(br *bufio.Reader, w net.Conn) error {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	head, err := br.Peek(n)
	if err != nil {
		return err
	}
	_, err = w.Write(head)
	return err
}

// connectTarget returns host:port for a CONNECT authority. A missing or
// unusable port becomes 443.
func connectTarget(authority string) string {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		host = strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
		port = ""
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		port = defaultConnectPort
	}
	return net.JoinHostPort(host, port)
}

func (s *HTTPProxyServer) handleForward(w http.ResponseWriter, r *http.Request) {
	s.opts.Metrics.Request(s.spec.Port, metrics.KindForward)

	policy, mask := s.current()

	if _, ok := Authenticate(r.Header, s.spec); !ok {
		s.opts.Metrics.AuthFailure(s.spec.Port)
		s.log.Info().Str("client", r.RemoteAddr).Bool("masked", mask).Msg("proxy authentication failed")
		writeAuthFailure(w, mask)
		return
	}

	if !isProxyURL(r.URL) {
		http.Error(w, "proxy requests need an absolute http or https URL", http.StatusBadRequest)
		return
	}

	cc := s.newConnContext(r, forwardTarget(r.URL), policy)
	if !s.opts.Domains.Allow(r.Context(), r.URL.Hostname()) {
		cc.log.Info().Msg("destination not allowed")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	r.Header.Del("Proxy-Connection")
	r.Header.Del("Proxy-Authorization")

	if cc.mode == modeSOCKS5 {
		s.forwardSOCKS(w, r, cc)
		return
	}
	s.rp.ServeHTTP(w, r)
}

func isProxyURL(u *url.URL) bool {
	return u != nil && u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// forwardTarget returns host:port for an absolute request URL.
func forwardTarget(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (s *HTTPProxyServer) newReverseProxy() *httputil.ReverseProxy {
	director := func(r *http.Request) {
		r.Host = r.URL.Host

		// Ask that X-Forwarded-For not be set.
		r.Header["X-Forwarded-For"] = nil
	}

	errHandler := func(w http.ResponseWriter, r *http.Request, err error) {
		s.opts.Metrics.UpstreamError(s.spec.Port, modeDirect)
		s.log.Warn().Err(err).Str("url", r.URL.String()).Msg("upstream request failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}

	return &httputil.ReverseProxy{
		Director:      director,
		Transport:     s.transport,
		FlushInterval: -1, // Stream upstream bytes as they arrive
		ErrorHandler:  errHandler,
		BufferPool:    relayBuffers,
		ErrorLog:      log.New(logging.Writer{Logger: s.log, Level: zerolog.DebugLevel}, "", 0),
	}
}

func newTransport(cfg dialer.Config, tlsCfg *tls.Config) *http.Transport {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tlsCfg = tlsCfg.Clone()
	}
	tlsCfg.ClientSessionCache = tls.NewLRUClientSessionCache(0)

	return &http.Transport{
		DialContext:         dialer.NewDirectDialer(cfg).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        2048,
		MaxIdleConnsPerHost: 1024,
		IdleConnTimeout:     upstreamIdleTimeout,
		TLSHandshakeTimeout: cfg.DialTimeout,
		TLSClientConfig:     tlsCfg,
	}
}
