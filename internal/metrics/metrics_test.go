package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Request(8443, KindConnect)
	m.Request(8443, KindConnect)
	m.AuthFailure(8443)
	m.UpstreamError(8443, "socks5")
	done := m.TunnelOpened()
	m.Relayed("upstream", 10)
	m.Relayed("upstream", 0)
	m.Reload(true)
	m.Reload(false)
	m.SetListeners(3)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("8443", KindConnect)); got != 2 {
		t.Errorf("requests=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.activeTunnels); got != 1 {
		t.Errorf("active=%v want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.activeTunnels); got != 0 {
		t.Errorf("active=%v want 0", got)
	}
	if got := testutil.ToFloat64(m.relayedBytes.WithLabelValues("upstream")); got != 10 {
		t.Errorf("relayed=%v want 10", got)
	}
	if got := testutil.ToFloat64(m.reloads.WithLabelValues("failure")); got != 1 {
		t.Errorf("reload failures=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.listeners); got != 3 {
		t.Errorf("listeners=%v want 3", got)
	}
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Request(1, KindForward)
	m.AuthFailure(1)
	m.UpstreamError(1, "direct")
	m.TunnelOpened()()
	m.Relayed("downstream", 1)
	m.Reload(true)
	m.SetListeners(1)
}
