package downloader

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// streamProgress is reported for the whole recording; a continuous feed has
// no known size.
const streamProgress = 50

// StreamStrategy records a continuous feed over a plain socket until the
// origin closes the connection.
type StreamStrategy struct {
	UserAgent   string
	DialTimeout time.Duration
}

// NewStreamStrategy creates a raw-stream strategy.
func NewStreamStrategy(userAgent string, dialTimeout time.Duration) *StreamStrategy {
	if dialTimeout <= 0 {
		dialTimeout = DefaultRequestTimeout
	}
	return &StreamStrategy{UserAgent: userAgent, DialTimeout: dialTimeout}
}

func (s *StreamStrategy) Name() StrategyName { return StrategyStream }

func (s *StreamStrategy) Execute(ctx context.Context, job Job) error {
	if err := job.checkCancelled(); err != nil {
		return err
	}

	u, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	conn, err := s.dial(ctx, u)
	if err != nil {
		return job.failure(fmt.Errorf("connect failed: %w", err))
	}
	res := RequestResource(func() { _ = conn.Close() })
	if err := job.State.Attach(res); err != nil {
		_ = conn.Close()
		return err
	}
	defer job.State.Detach(res)
	defer conn.Close()

	stop := context.AfterFunc(ctx, res.Terminate)
	defer stop()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	setBrowserHeaders(req, s.UserAgent)
	req.Close = true
	if err := req.Write(conn); err != nil {
		return job.failure(fmt.Errorf("request failed: %w", err))
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.DialTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return job.failure(fmt.Errorf("bad response: %w", err))
	}
	defer resp.Body.Close()
	_ = conn.SetReadDeadline(time.Time{})

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return copyToFile(job, resp.Body, -1, func(_, _ int64, speed float64) {
		job.Report.Progress(streamProgress, speed)
	})
}

func (s *StreamStrategy) dial(ctx context.Context, u *url.URL) (net.Conn, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	addr := net.JoinHostPort(host, port)
	dialer := &net.Dialer{Timeout: s.DialTimeout}
	if u.Scheme == "https" {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}
