package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultUserAgent is sent by the HTTP strategies so origins serve us like a browser.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultRequestTimeout bounds connect, response-header and body-read waits.
	DefaultRequestTimeout = 30 * time.Second

	copyBufferSize = 32 * 1024
)

// NewHTTPClient returns a client whose connect and header waits are bounded
// by timeout. A body may stream for as long as it takes, but a single read
// that blocks longer than timeout fails with ErrReadTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: &idleTransport{base: transport, timeout: timeout}}
}

func setBrowserHeaders(req *http.Request, userAgent string) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
}

// DirectStrategy downloads a file with a single streaming GET.
type DirectStrategy struct {
	Client    *http.Client
	UserAgent string
}

// NewDirectStrategy creates a direct HTTP strategy.
func NewDirectStrategy(client *http.Client, userAgent string) *DirectStrategy {
	if client == nil {
		client = NewHTTPClient(DefaultRequestTimeout)
	}
	return &DirectStrategy{Client: client, UserAgent: userAgent}
}

func (s *DirectStrategy) Name() StrategyName { return StrategyDirect }

func (s *DirectStrategy) Execute(ctx context.Context, job Job) error {
	if err := job.checkCancelled(); err != nil {
		return err
	}

	reqCtx, abort := context.WithCancel(ctx)
	defer abort()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, job.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	setBrowserHeaders(req, s.UserAgent)

	res := RequestResource(abort)
	if err := job.State.Attach(res); err != nil {
		return err
	}
	defer job.State.Detach(res)

	resp, err := s.Client.Do(req)
	if err != nil {
		return job.failure(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return copyToFile(job, resp.Body, resp.ContentLength, func(received, total int64, speed float64) {
		var progress float64
		if total > 0 {
			progress = capBelowDone(float64(received) / float64(total) * 100)
		}
		job.Report.Progress(progress, speed)
	})
}

// copyToFile streams body into job.Path, checking the cancellation flag
// before every chunk. A partial file is removed on transport failure and
// kept when the task was cancelled.
func copyToFile(job Job, body io.Reader, total int64, tick func(received, total int64, speed float64)) error {
	f, err := os.Create(job.Path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	received, copyErr := copyChunks(job, f, body, total, tick)
	closeErr := f.Close()

	switch {
	case errors.Is(copyErr, ErrCancelled):
		return ErrCancelled
	case copyErr != nil:
		_ = os.Remove(job.Path)
		return copyErr
	case closeErr != nil:
		_ = os.Remove(job.Path)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if total > 0 && received < total {
		_ = os.Remove(job.Path)
		return fmt.Errorf("incomplete download: got %d of %d bytes", received, total)
	}
	return nil
}

func copyChunks(job Job, w io.Writer, body io.Reader, total int64, tick func(received, total int64, speed float64)) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var received int64
	for {
		if err := job.checkCancelled(); err != nil {
			return received, err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return received, fmt.Errorf("failed to write file: %w", werr)
			}
			received += int64(n)
			tick(received, total, job.State.SampleRate(time.Now(), received))
		}
		if rerr == io.EOF {
			return received, nil
		}
		if rerr != nil {
			return received, job.failure(fmt.Errorf("read failed: %w", rerr))
		}
	}
}
