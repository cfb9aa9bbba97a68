package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// maxResponseHeaderBytes caps how much we buffer while waiting for the end of
// an upstream response head.
const maxResponseHeaderBytes = 1 << 20

var (
	errBadStatusLine  = errors.New("malformed upstream status line")
	errHeaderTooLarge = errors.New("upstream response head too large")

	statusLineRE = regexp.MustCompile(`^HTTP/1\.\d (\d{3})(?: |$)`)
	headerEnd    = []byte("\r\n\r\n")
	crlf         = []byte("\r\n")
)

type parserState int

const (
	awaitingHeaders parserState = iota
	bodyStreaming
)

type headerField struct {
	Name  string
	Value string
}

// responseHead is the parsed status line and header block of an upstream
// response. StatusLine is kept byte-for-byte so it can be replayed.
type responseHead struct {
	StatusLine []byte
	StatusCode int
	Header     []headerField
}

// responseParser frames an HTTP/1.x response read from a raw socket. It
// buffers until the blank line ending the head, then passes every later byte
// through untouched. It gives the same result however the input is split
// across Feed calls.
type responseParser struct {
	state parserState
	buf   []byte
	limit int
}

func newResponseParser() *responseParser {
	return &responseParser{limit: maxResponseHeaderBytes}
}

// Feed consumes b. While the head is incomplete it returns nothing. The call
// that completes the head returns it together with any body bytes that
// followed the terminator in b. After that every call returns b as body.
func (p *responseParser) Feed(b []byte) (*responseHead, []byte, error) {
	if p.state == bodyStreaming {
		return nil, b, nil
	}

	// The terminator may straddle the previous call's bytes.
	from := max(len(p.buf)-len(headerEnd)+1, 0)
	p.buf = append(p.buf, b...)

	i := bytes.Index(p.buf[from:], headerEnd)
	if i < 0 {
		if len(p.buf) > p.limit {
			return nil, nil, errHeaderTooLarge
		}
		return nil, nil, nil
	}
	i += from
	if i > p.limit {
		return nil, nil, errHeaderTooLarge
	}

	head, err := parseResponseHead(p.buf[:i])
	if err != nil {
		return nil, nil, err
	}

	body := p.buf[i+len(headerEnd):]
	p.buf = nil
	p.state = bodyStreaming
	return head, body, nil
}

func parseResponseHead(b []byte) (*responseHead, error) {
	statusLine, rest, _ := bytes.Cut(b, crlf)

	m := statusLineRE.FindSubmatch(statusLine)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", errBadStatusLine, statusLine)
	}
	code, _ := strconv.Atoi(string(m[1]))

	head := &responseHead{
		StatusLine: bytes.Clone(statusLine),
		StatusCode: code,
	}

	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, crlf)
		// Lines without a name are dropped rather than failing the response.
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || len(bytes.TrimSpace(name)) == 0 {
			continue
		}
		head.Header = append(head.Header, headerField{
			Name:  string(bytes.TrimSpace(name)),
			Value: string(bytes.TrimSpace(value)),
		})
	}

	return head, nil
}
