package proxy

import (
	"net/http/httputil"
	"sync"
)

// relayBufferSize is the read size of every relay leg and of the direct
// forward relay's response copy.
const relayBufferSize = 32 * 1024

// relayBuffers is shared by CopyBidirectional, the SOCKS5 forward relay and
// the ReverseProxy.
var relayBuffers = newBufferPool(relayBufferSize)

// bufferPool hands out fixed-size byte slices. It satisfies
// httputil.BufferPool so the ReverseProxy draws from the same pool.
type bufferPool struct {
	size int
	pool sync.Pool
}

var _ httputil.BufferPool = (*bufferPool)(nil)

func newBufferPool(size int) *bufferPool {
	p := &bufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *bufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Slices of another capacity are dropped so Get
// always yields size bytes.
func (p *bufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
