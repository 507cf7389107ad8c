package downloader

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ResourceKind tags the transfer resource a strategy holds open.
type ResourceKind int

const (
	ResourceNone ResourceKind = iota
	ResourceProcess
	ResourceRequest
	ResourceNativeItem
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceProcess:
		return "process"
	case ResourceRequest:
		return "request"
	case ResourceNativeItem:
		return "native-item"
	default:
		return "none"
	}
}

// Resource is an owned handle an external cancel can terminate.
type Resource interface {
	Kind() ResourceKind
	Terminate()
}

type processResource struct{ proc *os.Process }

// ProcessResource wraps a spawned subprocess; terminating kills it.
func ProcessResource(p *os.Process) Resource { return &processResource{proc: p} }

func (r *processResource) Kind() ResourceKind { return ResourceProcess }

func (r *processResource) Terminate() {
	if r.proc != nil {
		_ = r.proc.Kill()
	}
}

type requestResource struct{ abort func() }

// RequestResource wraps an in-flight network request; terminating calls abort.
func RequestResource(abort func()) Resource { return &requestResource{abort: abort} }

func (r *requestResource) Kind() ResourceKind { return ResourceRequest }

func (r *requestResource) Terminate() {
	if r.abort != nil {
		r.abort()
	}
}

type nativeResource struct{ item NativeItem }

// NativeItemResource wraps a shell download item; terminating cancels it.
func NativeItemResource(item NativeItem) Resource { return &nativeResource{item: item} }

func (r *nativeResource) Kind() ResourceKind { return ResourceNativeItem }

func (r *nativeResource) Terminate() {
	if r.item != nil {
		r.item.Cancel()
	}
}

// RateTracker turns cumulative byte counts into instantaneous throughput.
type RateTracker struct {
	lastSample time.Time
	lastBytes  int64
	lastRate   float64
}

// Sample records loaded bytes at now and returns bytes per second since the
// previous sample. The first sample reports zero.
func (t *RateTracker) Sample(now time.Time, loaded int64) float64 {
	if t.lastSample.IsZero() {
		t.lastSample = now
		t.lastBytes = loaded
		return 0
	}
	elapsed := now.Sub(t.lastSample).Seconds()
	if elapsed <= 0 {
		return t.lastRate
	}
	delta := loaded - t.lastBytes
	if delta < 0 {
		delta = 0
	}
	t.lastRate = float64(delta) / elapsed
	t.lastSample = now
	t.lastBytes = loaded
	return t.lastRate
}

// State is the mutable per-task record shared between the runner and Cancel.
// The cancelled flag only ever goes from false to true.
type State struct {
	ID string

	ctx       context.Context
	cancelCtx context.CancelFunc
	cancelled atomic.Bool

	mu     sync.Mutex
	active Resource
	rate   RateTracker
}

func newState(parent context.Context, id string) *State {
	ctx, cancel := context.WithCancel(parent)
	return &State{ID: id, ctx: ctx, cancelCtx: cancel}
}

// Context is cancelled together with the task.
func (s *State) Context() context.Context { return s.ctx }

// Cancelled reports whether Cancel has been called.
func (s *State) Cancelled() bool { return s.cancelled.Load() }

// Cancel marks the task cancelled and terminates the active resource. It
// returns the kind of resource that was terminated. Later calls are no-ops.
func (s *State) Cancel() ResourceKind {
	if !s.cancelled.CompareAndSwap(false, true) {
		return ResourceNone
	}
	s.cancelCtx()

	s.mu.Lock()
	res := s.active
	s.mu.Unlock()

	if res == nil {
		return ResourceNone
	}
	res.Terminate()
	return res.Kind()
}

// Attach records r as the task's active resource. At most one resource is
// held at a time. If the task is already cancelled r is terminated and
// ErrCancelled returned.
func (s *State) Attach(r Resource) error {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrResourceBusy
	}
	if s.Cancelled() {
		s.mu.Unlock()
		r.Terminate()
		return ErrCancelled
	}
	s.active = r
	s.mu.Unlock()
	return nil
}

// Detach clears r if it is still the active resource.
func (s *State) Detach(r Resource) {
	s.mu.Lock()
	if s.active == r {
		s.active = nil
	}
	s.mu.Unlock()
}

// Active returns the kind of the currently attached resource.
func (s *State) Active() ResourceKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ResourceNone
	}
	return s.active.Kind()
}

// SampleRate feeds the shared rate tracker.
func (s *State) SampleRate(now time.Time, loaded int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate.Sample(now, loaded)
}

// ResetRate starts a fresh throughput measurement, used when a new strategy begins.
func (s *State) ResetRate() {
	s.mu.Lock()
	s.rate = RateTracker{}
	s.mu.Unlock()
}

func (s *State) release() { s.cancelCtx() }

// Registry maps task ids to their live State. Entries exist only while a
// task is current.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// Create installs a fresh State for id.
func (r *Registry) Create(parent context.Context, id string) *State {
	st := newState(parent, id)
	r.mu.Lock()
	r.states[id] = st
	r.mu.Unlock()
	return st
}

// Get returns the State for id.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return st, ok
}

// Remove deletes id only while it still maps to st, so a stale runner never
// drops a newer entry for a reused id.
func (r *Registry) Remove(id string, st *State) {
	r.mu.Lock()
	if cur, ok := r.states[id]; ok && cur == st {
		delete(r.states, id)
	}
	r.mu.Unlock()
	st.release()
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
