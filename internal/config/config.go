package config

import (
	"net"
	"net/url"
	"strconv"
)

// DefaultSOCKSPort is used when a listener names a SOCKS_HOST without a port.
const DefaultSOCKSPort = 1080

// Config is the full configuration document.
type Config struct {
	// BindAddress is the host part every listener binds to. Empty means all
	// interfaces.
	BindAddress string `yaml:"bindAddress"`

	// MaskProxyAuth replaces the 407 challenge with an empty 200 JSON reply.
	MaskProxyAuth bool `yaml:"maskProxyAuth"`

	TLSCert string `yaml:"tlsCert"`
	TLSKey  string `yaml:"tlsKey"`

	Timeouts Timeouts `yaml:"timeouts"`

	Listeners []ListenerSpec `yaml:"httpsProxyListeners"`

	// DomainName is informational only; it is accepted so existing
	// deployment files load unchanged.
	DomainName string `yaml:"domainName,omitempty"`
}

// Timeouts holds raw millisecond values. A nil field means "use the default";
// zero disables the corresponding timeout.
type Timeouts struct {
	Server ServerTimeouts `yaml:"server"`
	Socket SocketTimeouts `yaml:"socket"`
	SOCKS  SOCKSTimeouts  `yaml:"socks"`
}

type ServerTimeouts struct {
	RequestTimeout   *int64 `yaml:"requestTimeout"`
	HeadersTimeout   *int64 `yaml:"headersTimeout"`
	KeepAliveTimeout *int64 `yaml:"keepAliveTimeout"`
	SocketTimeout    *int64 `yaml:"socketTimeout"`
}

type SocketTimeouts struct {
	IdleTimeout             *int64 `yaml:"idleTimeout"`
	KeepAlive               *bool  `yaml:"keepAlive"`
	KeepAliveInitialDelayMs *int64 `yaml:"keepAliveInitialDelayMs"`
}

type SOCKSTimeouts struct {
	HandshakeTimeoutMs *int64 `yaml:"handshakeTimeoutMs"`
}

// ListenerSpec describes one TLS proxy listener and its inbound/upstream
// policy. It is replaced wholesale on every reload.
type ListenerSpec struct {
	Port int `yaml:"port"`

	Username string `yaml:"USERNAME,omitempty"`
	Password string `yaml:"PASSWORD,omitempty"`

	SOCKSHost     string `yaml:"SOCKS_HOST,omitempty"`
	SOCKSPort     int    `yaml:"SOCKS_PORT,omitempty"`
	SOCKSUsername string `yaml:"SOCKS_USERNAME,omitempty"`
	SOCKSPassword string `yaml:"SOCKS_PASSWORD,omitempty"`
}

// HasCredentials reports whether the listener requires inbound Basic auth.
func (l ListenerSpec) HasCredentials() bool {
	return l.Username != "" || l.Password != ""
}

// UsesSOCKS reports whether egress goes through an upstream SOCKS5 gateway.
func (l ListenerSpec) UsesSOCKS() bool {
	return l.SOCKSHost != ""
}

// SOCKSAddr returns the gateway host:port, applying DefaultSOCKSPort.
func (l ListenerSpec) SOCKSAddr() string {
	port := l.SOCKSPort
	if port == 0 {
		port = DefaultSOCKSPort
	}
	return net.JoinHostPort(l.SOCKSHost, strconv.Itoa(port))
}

// UpstreamURL renders the egress path in the form accepted by dialer.New:
// direct:// or socks5://[user:pass@]host:port.
func (l ListenerSpec) UpstreamURL() string {
	if !l.UsesSOCKS() {
		return "direct://"
	}
	u := url.URL{Scheme: "socks5", Host: l.SOCKSAddr()}
	if l.SOCKSUsername != "" {
		u.User = url.UserPassword(l.SOCKSUsername, l.SOCKSPassword)
	}
	return u.String()
}

// ListenAddr returns the address the listener binds to.
func (c *Config) ListenAddr(l ListenerSpec) string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(l.Port))
}

// Clone returns a deep copy so callers can hand out configs without sharing
// the listener slice.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Listeners = append([]ListenerSpec(nil), c.Listeners...)
	return &out
}
