package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrReadTimeout is returned by a response body that delivered nothing for
// longer than the client's timeout.
var ErrReadTimeout = errors.New("read timeout")

// idleTransport aborts a response body that stalls inside Read for longer
// than timeout. Time the caller spends between reads is not counted.
type idleTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

func (t *idleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &idleBody{body: resp.Body, timeout: t.timeout, cancel: cancel}
	return resp, nil
}

func (t *idleTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	fired   atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

func (b *idleBody) Read(p []byte) (int, error) {
	b.arm()
	n, err := b.body.Read(p)
	b.disarm()
	if err != nil && err != io.EOF && b.fired.Load() {
		return n, fmt.Errorf("%w after %s", ErrReadTimeout, b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.disarm()
	b.cancel()
	return b.body.Close()
}

func (b *idleBody) arm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil {
		b.timer = time.AfterFunc(b.timeout, b.expire)
		return
	}
	b.timer.Reset(b.timeout)
}

func (b *idleBody) disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}

func (b *idleBody) expire() {
	b.fired.Store(true)
	b.cancel()
}
