package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/die-net/socksbridge/internal/config"
	"github.com/die-net/socksbridge/internal/conn"
)

// Manager owns the set of running TLS proxy listeners, one per configured
// port. The set only changes as a whole: Stop closes every listener and Start
// binds the set described by the Store's current configuration.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  config.Store
	opts   Options

	// reloadMu serializes Start, Stop and Reload.
	reloadMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]*listener
	wg        sync.WaitGroup
}

type listener struct {
	spec config.ListenerSpec
	ln   net.Listener
	srv  *HTTPProxyServer
}

// NewManager returns a Manager reading configuration from store. Canceling
// ctx, or calling Close, also ends every tunnel the listeners started.
func NewManager(ctx context.Context, store config.Store, opts Options) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		ctx:       ctx,
		cancel:    cancel,
		store:     store,
		opts:      opts,
		listeners: make(map[int]*listener),
	}
}

// Start binds one TLS proxy listener per configured port. If the TLS key pair
// cannot be loaded it returns an error wrapping ErrTLSMaterial without binding
// anything. If any port fails to bind, the ports bound by this call are closed
// again and the error is returned.
func (m *Manager) Start() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.start()
}

// Stop closes every listener and empties the registry. Close errors are
// logged. Established tunnels are left to finish. Calling Stop with nothing
// running is a no-op.
func (m *Manager) Stop() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	m.stop()
}

// Reload replaces the running listener set with the one currently in the
// Store. It reports whether the new set started. After a failed reload no
// listeners are running.
func (m *Manager) Reload() (ok bool) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			m.opts.Logger.Error().Interface("panic", r).Msg("reload panicked")
			m.opts.Metrics.Reload(false)
			ok = false
		}
	}()

	m.stop()
	if err := m.start(); err != nil {
		m.opts.Logger.Error().Err(err).Msg("reload failed")
		m.opts.Metrics.Reload(false)
		return false
	}
	m.opts.Metrics.Reload(true)
	m.opts.Logger.Info().Ints("ports", m.Ports()).Msg("reloaded listeners")
	return true
}

// Ports returns the ports currently being served, in ascending order.
func (m *Manager) Ports() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ports := make([]int, 0, len(m.listeners))
	for port := range m.listeners {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return ports
}

// Close stops all listeners, ends every live tunnel and waits for the serve
// loops to exit.
func (m *Manager) Close() {
	m.Stop()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) start() error {
	cfg, err := m.store.Read()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	tlsCfg, err := LoadTLSConfig(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return err
	}

	policy := ResolveTimeouts(cfg.Timeouts)

	bound := make([]*listener, 0, len(cfg.Listeners))
	for _, spec := range cfg.Listeners {
		l, err := m.bind(cfg, spec, policy, tlsCfg)
		if err != nil {
			for _, b := range bound {
				_ = b.ln.Close()
			}
			return err
		}
		bound = append(bound, l)
	}

	m.mu.Lock()
	for _, l := range bound {
		m.listeners[l.spec.Port] = l
		m.wg.Go(func() { m.serve(l) })
	}
	n := len(m.listeners)
	m.mu.Unlock()

	m.opts.Metrics.SetListeners(n)
	return nil
}

func (m *Manager) bind(cfg *config.Config, spec config.ListenerSpec, policy TimeoutPolicy, tlsCfg *tls.Config) (*listener, error) {
	m.mu.Lock()
	_, running := m.listeners[spec.Port]
	m.mu.Unlock()
	if running {
		return nil, fmt.Errorf("listener %d: already running", spec.Port)
	}

	ln, err := conn.ListenTCP(m.ctx, "tcp", cfg.ListenAddr(spec), policy.KeepAliveConfig(), policy.SocketTimeout)
	if err != nil {
		return nil, fmt.Errorf("listener %d: %w", spec.Port, err)
	}

	return &listener{
		spec: spec,
		ln:   tls.NewListener(ln, tlsCfg),
		srv:  NewHTTPProxyServer(m.ctx, spec, m.store, cfg, m.opts),
	}, nil
}

func (m *Manager) serve(l *listener) {
	log := m.opts.Logger.With().Int("listener", l.spec.Port).Logger()
	log.Info().Str("addr", l.ln.Addr().String()).Str("upstream", redactedUpstream(l.spec)).Msg("listening")

	err := l.srv.Serve(l.ln)
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("listener failed")
	}
}

func (m *Manager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for port, l := range m.listeners {
		if err := l.ln.Close(); err != nil {
			m.opts.Logger.Warn().Err(err).Int("listener", port).Msg("listener close failed")
		}
		l.srv.Shutdown()
		delete(m.listeners, port)
	}
	m.opts.Metrics.SetListeners(0)
}

func redactedUpstream(spec config.ListenerSpec) string {
	if !spec.UsesSOCKS() {
		return modeDirect
	}
	return modeSOCKS5 + "://" + spec.SOCKSAddr()
}
