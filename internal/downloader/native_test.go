package downloader

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	url string

	mu        sync.Mutex
	savePath  string
	total     int64
	received  int64
	paused    bool
	cancelled bool
	updated   func(NativeState)
	done      func(NativeState)
}

func (i *fakeItem) URL() string { return i.url }

func (i *fakeItem) SetSavePath(p string) {
	i.mu.Lock()
	i.savePath = p
	i.mu.Unlock()
}

func (i *fakeItem) TotalBytes() int64    { i.mu.Lock(); defer i.mu.Unlock(); return i.total }
func (i *fakeItem) ReceivedBytes() int64 { i.mu.Lock(); defer i.mu.Unlock(); return i.received }
func (i *fakeItem) IsPaused() bool       { i.mu.Lock(); defer i.mu.Unlock(); return i.paused }

func (i *fakeItem) Cancel() {
	i.mu.Lock()
	i.cancelled = true
	done := i.done
	i.mu.Unlock()
	if done != nil {
		done(NativeCancelled)
	}
}

func (i *fakeItem) OnUpdated(fn func(NativeState)) { i.mu.Lock(); i.updated = fn; i.mu.Unlock() }
func (i *fakeItem) OnDone(fn func(NativeState))    { i.mu.Lock(); i.done = fn; i.mu.Unlock() }

func (i *fakeItem) update(st NativeState, received, total int64) {
	i.mu.Lock()
	i.received, i.total = received, total
	fn := i.updated
	i.mu.Unlock()
	fn(st)
}

func (i *fakeItem) finish(st NativeState) {
	i.mu.Lock()
	fn := i.done
	i.mu.Unlock()
	fn(st)
}

func (i *fakeItem) setPaused(p bool) {
	i.mu.Lock()
	i.paused = p
	i.mu.Unlock()
}

func (i *fakeItem) path() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.savePath
}

// fakeManager surfaces the items returned by produce for every DownloadURL.
type fakeManager struct {
	produce func(url string) []*fakeItem

	mu        sync.Mutex
	listeners map[int]func(NativeItem)
	next      int
}

func newFakeManager(produce func(url string) []*fakeItem) *fakeManager {
	return &fakeManager{produce: produce, listeners: map[int]func(NativeItem){}}
}

func (m *fakeManager) DownloadURL(url string) {
	if m.produce == nil {
		return
	}
	for _, item := range m.produce(url) {
		m.mu.Lock()
		var fns []func(NativeItem)
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
		m.mu.Unlock()
		for _, fn := range fns {
			fn(item)
		}
	}
}

func (m *fakeManager) OnWillDownload(fn func(NativeItem)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *fakeManager) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func TestNativeStrategy_MatchesByURL(t *testing.T) {
	const url = "http://h/video.mp4"
	other := &fakeItem{url: "http://h/other.mp4"}
	ours := &fakeItem{url: url}
	mgr := newFakeManager(func(string) []*fakeItem { return []*fakeItem{other, ours} })

	dest := filepath.Join(t.TempDir(), "video.mp4")
	job, events := testJob(t, url, dest)

	done := make(chan error, 1)
	go func() { done <- NewNativeStrategy(mgr, time.Second).Execute(context.Background(), job) }()

	require.Eventually(t, func() bool { return ours.path() == dest }, time.Second, time.Millisecond)
	assert.Empty(t, other.path())
	assert.Equal(t, ResourceNativeItem, job.State.Active())

	ours.update(NativeProgressing, 50, 100)
	ours.setPaused(true)
	ours.update(NativeProgressing, 60, 100)
	ours.setPaused(false)
	ours.update(NativeInterrupted, 60, 100)
	ours.update(NativeProgressing, 100, 100)
	ours.finish(NativeCompleted)

	require.NoError(t, <-done)
	progress := events.forID("job")
	require.Len(t, progress, 2)
	assert.Equal(t, 50.0, progress[0].Progress)
	assert.Equal(t, 99.0, progress[1].Progress)
	assert.Equal(t, "Downloading...", progress[1].Speed)
	assert.Zero(t, mgr.listenerCount())
}

func TestNativeStrategy_Timeout(t *testing.T) {
	mgr := newFakeManager(nil)
	job, _ := testJob(t, "http://h/video.mp4", filepath.Join(t.TempDir(), "v.mp4"))

	err := NewNativeStrategy(mgr, 20*time.Millisecond).Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrNativeTimeout)
	assert.Zero(t, mgr.listenerCount())
}

func TestNativeStrategy_Interrupted(t *testing.T) {
	const url = "http://h/video.mp4"
	item := &fakeItem{url: url}
	mgr := newFakeManager(func(string) []*fakeItem { return []*fakeItem{item} })
	job, _ := testJob(t, url, filepath.Join(t.TempDir(), "v.mp4"))

	done := make(chan error, 1)
	go func() { done <- NewNativeStrategy(mgr, time.Second).Execute(context.Background(), job) }()

	require.Eventually(t, func() bool { return item.path() != "" }, time.Second, time.Millisecond)
	item.finish(NativeInterrupted)

	err := <-done
	require.Error(t, err)
	assert.Equal(t, "download interrupted", err.Error())
}

func TestNativeStrategy_Cancel(t *testing.T) {
	const url = "http://h/video.mp4"
	item := &fakeItem{url: url}
	mgr := newFakeManager(func(string) []*fakeItem { return []*fakeItem{item} })
	job, _ := testJob(t, url, filepath.Join(t.TempDir(), "v.mp4"))

	done := make(chan error, 1)
	go func() { done <- NewNativeStrategy(mgr, time.Second).Execute(job.State.Context(), job) }()

	require.Eventually(t, func() bool { return job.State.Active() == ResourceNativeItem }, time.Second, time.Millisecond)
	assert.Equal(t, ResourceNativeItem, job.State.Cancel())

	assert.ErrorIs(t, <-done, ErrCancelled)
	item.mu.Lock()
	defer item.mu.Unlock()
	assert.True(t, item.cancelled)
}

func TestNativeStrategy_NoManager(t *testing.T) {
	job, _ := testJob(t, "http://h/video.mp4", filepath.Join(t.TempDir(), "v.mp4"))

	err := NewNativeStrategy(nil, time.Second).Execute(context.Background(), job)
	assert.ErrorIs(t, err, ErrSurfaceUnavailable)
	assert.True(t, isPrecondition(err))
}
