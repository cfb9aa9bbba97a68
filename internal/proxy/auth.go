package proxy

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/die-net/socksbridge/internal/config"
)

// Authenticate checks the Proxy-Authorization header against spec. A
// listener that declares no credentials accepts every request. Otherwise the
// header must carry Basic credentials whose username and password both match
// exactly. On success the listener spec is returned as the request's profile.
func Authenticate(h http.Header, spec config.ListenerSpec) (config.ListenerSpec, bool) {
	if !spec.HasCredentials() {
		return spec, true
	}

	user, pass, ok := parseBasicAuth(h.Get("Proxy-Authorization"))
	if !ok {
		return config.ListenerSpec{}, false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(spec.Username))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(spec.Password))
	if userOK&passOK != 1 {
		return config.ListenerSpec{}, false
	}
	return spec, true
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	scheme, payload, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	dec, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(dec), ":")
}

const authRealm = `Basic realm="Proxy"`

// writeAuthFailure answers a failed forward request through w.
func writeAuthFailure(w http.ResponseWriter, mask bool) {
	h := w.Header()
	h.Set("Connection", "close")
	if mask {
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "{}")
		return
	}
	h.Set("Proxy-Authenticate", authRealm)
	w.WriteHeader(http.StatusProxyAuthRequired)
}

// writeRawAuthFailure answers a failed CONNECT on a hijacked connection.
func writeRawAuthFailure(w io.Writer, mask bool) error {
	if mask {
		return writeRawResponse(w, http.StatusOK, http.Header{"Content-Type": {"application/json"}}, "{}")
	}
	return writeRawResponse(w, http.StatusProxyAuthRequired, http.Header{"Proxy-Authenticate": {authRealm}}, "")
}

// writeRawResponse simulates a complete response for use on a hijacked
// connection. The connection is always marked for close.
func writeRawResponse(w io.Writer, code int, h http.Header, body string) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code)); err != nil {
		return err
	}
	if h == nil {
		h = http.Header{}
	}
	h.Set("Connection", "close")
	h.Set("Content-Length", fmt.Sprint(len(body)))
	if err := h.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n"+body)
	return err
}

// writeRawError is the hijacked-connection counterpart of http.Error.
func writeRawError(w io.Writer, err error, code int) error {
	msg := http.StatusText(code)
	if err != nil {
		msg = err.Error()
	}
	return writeRawResponse(w, code, http.Header{"Content-Type": {"text/plain; charset=utf-8"}}, msg+"\r\n")
}
