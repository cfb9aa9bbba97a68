package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksbridge/internal/metrics"
)

const (
	dirUpstream   = "upstream"
	dirDownstream = "downstream"
)

// CopyBidirectional splices client and upstream until either leg ends. The
// first leg to finish, cleanly or not, closes both connections so the other
// copy unblocks at once; there is no half-close or drain. Canceling ctx also
// closes both.
func CopyBidirectional(ctx context.Context, client, upstream net.Conn, m *metrics.Metrics) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		defer closeBoth()
		n, err := copyBuffer(upstream, client)
		m.Relayed(dirUpstream, n)
		return err
	})

	g.Go(func() error {
		defer closeBoth()
		n, err := copyBuffer(client, upstream)
		m.Relayed(dirDownstream, n)
		return err
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		// The losing leg always sees its conn closed under it.
		return nil
	}
	return err
}

func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}
