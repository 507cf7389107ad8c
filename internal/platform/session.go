package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamvault/streamvault/internal/downloader"
)

const (
	defaultClaimWindow    = 10 * time.Second
	defaultUpdateInterval = 500 * time.Millisecond
)

// SessionConfig configures the shell download session.
type SessionConfig struct {
	Client    *http.Client
	UserAgent string
	// ClaimWindow is how long a new item waits for a save path before it
	// is dropped.
	ClaimWindow    time.Duration
	UpdateInterval time.Duration
	Retry          RetryConfig
}

// DownloadSession is the shell's download manager. Every DownloadURL call
// surfaces a new item to the OnWillDownload listeners; the item transfers
// once a listener gives it a save path.
type DownloadSession struct {
	cfg    SessionConfig
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[int]func(downloader.NativeItem)
	nextID    int
	items     map[*DownloadItem]struct{}
}

// NewDownloadSession creates a session.
func NewDownloadSession(cfg SessionConfig, logger zerolog.Logger) *DownloadSession {
	if cfg.Client == nil {
		cfg.Client = downloader.NewHTTPClient(downloader.DefaultRequestTimeout)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = downloader.DefaultUserAgent
	}
	if cfg.ClaimWindow <= 0 {
		cfg.ClaimWindow = defaultClaimWindow
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DownloadSession{
		cfg:       cfg,
		logger:    logger.With().Str("component", "download-session").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(downloader.NativeItem)),
		items:     make(map[*DownloadItem]struct{}),
	}
}

// OnWillDownload registers fn for every new item.
func (s *DownloadSession) OnWillDownload(fn func(downloader.NativeItem)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// DownloadURL starts a download of url. The new item is announced
// asynchronously.
func (s *DownloadSession) DownloadURL(url string) {
	item := newDownloadItem(s, url)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.items[item] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.handle(item)
}

// Active returns the number of items not yet done.
func (s *DownloadSession) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close cancels every item and waits for their transfers to stop.
func (s *DownloadSession) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *DownloadSession) handle(item *DownloadItem) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.items, item)
		s.mu.Unlock()
	}()

	s.mu.Lock()
	fns := make([]func(downloader.NativeItem), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(item)
	}

	timer := time.NewTimer(s.cfg.ClaimWindow)
	defer timer.Stop()
	select {
	case <-item.claimed:
	case <-timer.C:
		s.logger.Debug().Str("url", item.url).Msg("Download item not claimed, dropping")
		item.finish(downloader.NativeCancelled)
		return
	case <-item.ctx.Done():
		item.finish(downloader.NativeCancelled)
		return
	}

	item.finish(s.transfer(item))
}

func (s *DownloadSession) transfer(item *DownloadItem) downloader.NativeState {
	log := s.logger.With().Str("url", item.url).Str("path", item.SavePath()).Logger()

	var resp *http.Response
	err := withRetry(item.ctx, s.cfg.Retry, log, func() error {
		req, err := http.NewRequestWithContext(item.ctx, http.MethodGet, item.url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.cfg.UserAgent)
		resp, err = s.cfg.Client.Do(req)
		return err
	})
	if err != nil {
		return item.failed(log, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return item.failed(log, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	item.setTotal(resp.ContentLength)

	f, err := os.Create(item.SavePath())
	if err != nil {
		return item.failed(log, err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	var last time.Time
	for {
		if err := item.waitResumed(); err != nil {
			return downloader.NativeCancelled
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return item.failed(log, werr)
			}
			item.addReceived(int64(n))
			if now := time.Now(); now.Sub(last) >= s.cfg.UpdateInterval {
				last = now
				item.emitUpdated(downloader.NativeProgressing)
			}
		}
		if rerr == io.EOF {
			log.Debug().Int64("bytes", item.ReceivedBytes()).Msg("Download item completed")
			return downloader.NativeCompleted
		}
		if rerr != nil {
			return item.failed(log, rerr)
		}
	}
}

// DownloadItem is one download owned by the session.
type DownloadItem struct {
	url string

	ctx     context.Context
	cancel  context.CancelFunc
	claimed chan struct{}

	mu       sync.Mutex
	claim    bool
	savePath string
	total    int64
	received int64
	paused   bool
	resume   chan struct{}
	updated  []func(downloader.NativeState)
	done     []func(downloader.NativeState)
	final    downloader.NativeState
}

func newDownloadItem(s *DownloadSession, url string) *DownloadItem {
	ctx, cancel := context.WithCancel(s.ctx)
	return &DownloadItem{
		url:     url,
		ctx:     ctx,
		cancel:  cancel,
		claimed: make(chan struct{}),
	}
}

func (i *DownloadItem) URL() string { return i.url }

// SetSavePath claims the item; only the first call takes effect.
func (i *DownloadItem) SetSavePath(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.claim {
		return
	}
	i.claim = true
	i.savePath = path
	close(i.claimed)
}

func (i *DownloadItem) SavePath() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.savePath
}

func (i *DownloadItem) TotalBytes() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.total
}

func (i *DownloadItem) ReceivedBytes() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.received
}

func (i *DownloadItem) IsPaused() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.paused
}

// Pause holds the transfer after the current chunk.
func (i *DownloadItem) Pause() {
	i.mu.Lock()
	if !i.paused {
		i.paused = true
		i.resume = make(chan struct{})
	}
	i.mu.Unlock()
	i.emitUpdated(downloader.NativeProgressing)
}

// Resume continues a paused transfer.
func (i *DownloadItem) Resume() {
	i.mu.Lock()
	if i.paused {
		i.paused = false
		close(i.resume)
	}
	i.mu.Unlock()
}

func (i *DownloadItem) Cancel() {
	i.cancel()
}

// OnUpdated registers fn for progress updates.
func (i *DownloadItem) OnUpdated(fn func(downloader.NativeState)) {
	i.mu.Lock()
	i.updated = append(i.updated, fn)
	i.mu.Unlock()
}

// OnDone registers fn for the final state. If the item is already done fn
// runs immediately.
func (i *DownloadItem) OnDone(fn func(downloader.NativeState)) {
	i.mu.Lock()
	final := i.final
	if final == "" {
		i.done = append(i.done, fn)
	}
	i.mu.Unlock()
	if final != "" {
		fn(final)
	}
}

func (i *DownloadItem) setTotal(n int64) {
	i.mu.Lock()
	i.total = n
	i.mu.Unlock()
}

func (i *DownloadItem) addReceived(n int64) {
	i.mu.Lock()
	i.received += n
	i.mu.Unlock()
}

func (i *DownloadItem) waitResumed() error {
	for {
		i.mu.Lock()
		paused, resume := i.paused, i.resume
		i.mu.Unlock()
		if err := i.ctx.Err(); err != nil {
			return err
		}
		if !paused {
			return nil
		}
		select {
		case <-resume:
		case <-i.ctx.Done():
			return i.ctx.Err()
		}
	}
}

func (i *DownloadItem) failed(log zerolog.Logger, err error) downloader.NativeState {
	if i.ctx.Err() != nil {
		return downloader.NativeCancelled
	}
	log.Warn().Err(err).Msg("Download item interrupted")
	return downloader.NativeInterrupted
}

func (i *DownloadItem) emitUpdated(st downloader.NativeState) {
	i.mu.Lock()
	if i.final != "" {
		i.mu.Unlock()
		return
	}
	fns := append(([]func(downloader.NativeState))(nil), i.updated...)
	i.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (i *DownloadItem) finish(st downloader.NativeState) {
	i.mu.Lock()
	if i.final != "" {
		i.mu.Unlock()
		return
	}
	i.final = st
	fns := i.done
	i.done = nil
	i.mu.Unlock()

	i.cancel()
	if st == downloader.NativeCancelled {
		if p := i.SavePath(); p != "" {
			_ = os.Remove(p)
		}
	}
	for _, fn := range fns {
		fn(st)
	}
}
