package proxy

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"
)

func readRequest(t *testing.T, raw string) *http.Request {
	t.Helper()
	r, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestWriteProxiedRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "get without body",
			in:   "GET http://example.com HTTP/1.1\r\nHost: example.com\r\nProxy-Connection: keep-alive\r\nProxy-Authorization: Basic dTpw\r\n\r\n",
			want: "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n",
		},
		{
			name: "post with length",
			in:   "POST http://example.com:8080/a?b=1 HTTP/1.1\r\nHost: example.com:8080\r\nContent-Length: 5\r\nX-B: 2\r\nX-A: 1\r\nConnection: keep-alive\r\n\r\nhello",
			want: "POST /a?b=1 HTTP/1.1\r\nHost: example.com:8080\r\nX-A: 1\r\nX-B: 2\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello",
		},
		{
			name: "empty post keeps zero length",
			in:   "POST http://example.com/ HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n",
			want: "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		},
		{
			name: "repeated header values",
			in:   "GET http://example.com/x HTTP/1.1\r\nHost: example.com\r\nAccept: a\r\nAccept: b\r\n\r\n",
			want: "GET /x HTTP/1.1\r\nHost: example.com\r\nAccept: a\r\nAccept: b\r\nConnection: close\r\n\r\n",
		},
		{
			name: "expect is answered locally",
			in:   "POST http://example.com/up HTTP/1.1\r\nHost: example.com\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\nhi",
			want: "POST /up HTTP/1.1\r\nHost: example.com\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			if err := writeProxiedRequest(&buf, readRequest(t, tt.in)); err != nil {
				t.Fatal(err)
			}
			if buf.String() != tt.want {
				t.Fatalf("got\n%q\nwant\n%q", buf.String(), tt.want)
			}
		})
	}
}

func TestWriteProxiedRequestChunked(t *testing.T) {
	t.Parallel()

	in := readRequest(t, "PUT http://example.com/up HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"3\r\nabc\r\n4\r\ndefg\r\n0\r\n\r\n")

	var buf bytes.Buffer
	if err := writeProxiedRequest(&buf, in); err != nil {
		t.Fatal(err)
	}

	out := readRequest(t, buf.String())
	if len(out.TransferEncoding) != 1 || out.TransferEncoding[0] != "chunked" {
		t.Fatalf("transfer encoding %v", out.TransferEncoding)
	}
	if out.Header.Get("Content-Length") != "" {
		t.Fatal("chunked request also carries Content-Length")
	}
	body, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "abcdefg" {
		t.Fatalf("body %q", body)
	}
	if !strings.HasSuffix(buf.String(), "0\r\n\r\n") {
		t.Fatalf("missing last chunk: %q", buf.String())
	}
}

func TestWriteResponseHead(t *testing.T) {
	t.Parallel()

	head := &responseHead{
		StatusLine: []byte("HTTP/1.0 200 Fine Thanks"),
		StatusCode: 200,
		Header: []headerField{
			{Name: "content-type", Value: "text/html"},
			{Name: "Connection", Value: "keep-alive"},
			{Name: "Keep-Alive", Value: "timeout=5"},
			{Name: "Transfer-Encoding", Value: "chunked"},
		},
	}

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	writeResponseHead(bw, head)
	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	want := "HTTP/1.0 200 Fine Thanks\r\ncontent-type: text/html\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n"
	if buf.String() != want {
		t.Fatalf("got %q", buf.String())
	}
}

func TestConnectTarget(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"example.com:443":  "example.com:443",
		"example.com":      "example.com:443",
		"example.com:8443": "example.com:8443",
		"example.com:0":    "example.com:443",
		"example.com:http": "example.com:443",
		"10.0.0.1":         "10.0.0.1:443",
		"[::1]":            "[::1]:443",
		"[::1]:22":         "[::1]:22",
	}
	for in, want := range tests {
		if got := connectTarget(in); got != want {
			t.Errorf("connectTarget(%q) = %q, want %q", in, got, want)
		}
	}
}
