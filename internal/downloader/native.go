package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultNativeStartTimeout bounds the wait for the shell to pick up a download.
const DefaultNativeStartTimeout = 30 * time.Second

const nativeSpeedText = "Downloading..."

// NativeState is the lifecycle state a shell download item reports.
type NativeState string

const (
	NativeProgressing NativeState = "progressing"
	NativeInterrupted NativeState = "interrupted"
	NativeCompleted   NativeState = "completed"
	NativeCancelled   NativeState = "cancelled"
)

// NativeItem is a download owned by the embedding shell's download manager.
type NativeItem interface {
	URL() string
	SetSavePath(path string)
	TotalBytes() int64
	ReceivedBytes() int64
	IsPaused() bool
	Cancel()
	OnUpdated(fn func(NativeState))
	OnDone(fn func(NativeState))
}

// NativeManager is the shell's ambient download manager.
type NativeManager interface {
	// DownloadURL asks the shell to start downloading url.
	DownloadURL(url string)
	// OnWillDownload registers fn for every item the shell surfaces. The
	// returned func removes the listener.
	OnWillDownload(fn func(NativeItem)) (remove func())
}

// NativeStrategy hands the transfer to the shell's download manager.
type NativeStrategy struct {
	Manager      NativeManager
	StartTimeout time.Duration
}

// NewNativeStrategy creates a host-native strategy.
func NewNativeStrategy(manager NativeManager, startTimeout time.Duration) *NativeStrategy {
	if startTimeout <= 0 {
		startTimeout = DefaultNativeStartTimeout
	}
	return &NativeStrategy{Manager: manager, StartTimeout: startTimeout}
}

func (s *NativeStrategy) Name() StrategyName { return StrategyNative }

func (s *NativeStrategy) Execute(ctx context.Context, job Job) error {
	if s.Manager == nil {
		return &PreconditionError{Err: ErrSurfaceUnavailable}
	}
	if err := job.checkCancelled(); err != nil {
		return err
	}

	item, err := s.await(ctx, job)
	if err != nil {
		return err
	}

	done := make(chan NativeState, 1)
	item.OnUpdated(func(st NativeState) {
		if job.State.Cancelled() {
			item.Cancel()
			return
		}
		if st != NativeProgressing || item.IsPaused() {
			return
		}
		var progress float64
		if total := item.TotalBytes(); total > 0 {
			progress = float64(item.ReceivedBytes()) / float64(total) * 100
		}
		job.Report.ProgressText(capBelowDone(progress), nativeSpeedText)
	})
	item.OnDone(func(st NativeState) {
		select {
		case done <- st:
		default:
		}
	})

	res := NativeItemResource(item)
	if err := job.State.Attach(res); err != nil {
		return err
	}
	defer job.State.Detach(res)

	item.SetSavePath(job.Path)

	select {
	case st := <-done:
		if st == NativeCompleted {
			return nil
		}
		return job.failure(fmt.Errorf("download %s", st))
	case <-ctx.Done():
		item.Cancel()
		return job.failure(ctx.Err())
	}
}

// await triggers the download and waits for the shell to surface the item
// whose URL equals job.URL exactly.
func (s *NativeStrategy) await(ctx context.Context, job Job) (NativeItem, error) {
	matched := make(chan NativeItem, 1)
	var once sync.Once
	remove := s.Manager.OnWillDownload(func(item NativeItem) {
		if item.URL() != job.URL {
			return
		}
		once.Do(func() { matched <- item })
	})
	defer remove()

	s.Manager.DownloadURL(job.URL)

	timer := time.NewTimer(s.StartTimeout)
	defer timer.Stop()

	select {
	case item := <-matched:
		return item, nil
	case <-timer.C:
		return nil, ErrNativeTimeout
	case <-ctx.Done():
		return nil, job.failure(ctx.Err())
	}
}
