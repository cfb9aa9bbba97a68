package proxy

import (
	"crypto/tls"
	"errors"
	"fmt"
)

// ErrTLSMaterial means the shared certificate or key could not be loaded.
// Nothing is bound when Start returns it.
var ErrTLSMaterial = errors.New("tls certificate/key unavailable")

// LoadTLSConfig loads the key pair shared by every listener. Only HTTP/1.1 is
// offered since CONNECT tunnels rely on connection hijacking.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("%w: tlsCert and tlsKey must both be set", ErrTLSMaterial)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTLSMaterial, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}, nil
}
