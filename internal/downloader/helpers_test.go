package downloader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Emit(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) forID(id string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) terminal(id string) (Event, bool) {
	for _, ev := range l.forID(id) {
		if ev.Status.IsTerminal() {
			return ev, true
		}
	}
	return Event{}, false
}

func (l *eventLog) waitTerminal(t *testing.T, id string) Event {
	t.Helper()
	var ev Event
	require.Eventually(t, func() bool {
		var ok bool
		ev, ok = l.terminal(id)
		return ok
	}, 5*time.Second, 5*time.Millisecond, "no terminal event for %s", id)
	return ev
}

// assertSingleTerminal checks exactly one terminal event was sent for id and
// that it is the last event for id.
func (l *eventLog) assertSingleTerminal(t *testing.T, id string) {
	t.Helper()
	events := l.forID(id)
	require.NotEmpty(t, events)
	count := 0
	for _, ev := range events {
		if ev.Status.IsTerminal() {
			count++
		}
	}
	require.Equal(t, 1, count, "terminal events for %s: %+v", id, events)
	require.True(t, events[len(events)-1].Status.IsTerminal(), "events after terminal for %s: %+v", id, events)
}

type fakeStrategy struct {
	name  StrategyName
	fn    func(ctx context.Context, job Job) error
	calls atomic.Int32

	mu   sync.Mutex
	jobs []Job
}

func (s *fakeStrategy) Name() StrategyName { return s.name }

func (s *fakeStrategy) Execute(ctx context.Context, job Job) error {
	s.calls.Add(1)
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, job)
}

func (s *fakeStrategy) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, j := range s.jobs {
		out = append(out, j.Path)
	}
	return out
}

func (s *fakeStrategy) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, j := range s.jobs {
		out = append(out, j.ID)
	}
	return out
}

func failWith(err error) func(context.Context, Job) error {
	return func(context.Context, Job) error { return err }
}

// blockUntilCancelled holds the current slot until the task's context ends.
func blockUntilCancelled(ctx context.Context, job Job) error {
	<-ctx.Done()
	return ErrCancelled
}

func staticDirs(dir string) DirResolver {
	return DirResolverFunc(func(string) (string, error) { return dir, nil })
}

type readySurface bool

func (s readySurface) Ready() bool { return bool(s) }

func testJob(t *testing.T, url, path string) (Job, *eventLog) {
	t.Helper()
	events := &eventLog{}
	st := newState(context.Background(), "job")
	t.Cleanup(st.release)
	return Job{
		ID:     "job",
		URL:    url,
		Path:   path,
		State:  st,
		Report: NewReporter("job", events, 0),
	}, events
}
