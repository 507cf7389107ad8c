package downloader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Job is one strategy attempt for a task.
type Job struct {
	ID     string
	URL    string
	Path   string
	State  *State
	Report *Reporter
}

// Strategy is one transport mechanism. Execute returns nil once the file at
// job.Path is complete, ErrCancelled when the task was cancelled, and any
// other error for a transport failure the runner may fall through on.
type Strategy interface {
	Name() StrategyName
	Execute(ctx context.Context, job Job) error
}

// failure maps err to ErrCancelled when the task was cancelled meanwhile.
func (j Job) failure(err error) error {
	if j.State != nil && j.State.Cancelled() {
		return ErrCancelled
	}
	return err
}

// checkCancelled is the fast exit every strategy takes before opening anything.
func (j Job) checkCancelled() error {
	if j.State != nil && j.State.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Reporter delivers progress events for a single run of a task. It passes
// exactly one terminal event and drops everything after it. Non-terminal
// events are throttled to the configured interval.
type Reporter struct {
	id      string
	emitter Emitter
	limiter *rate.Limiter

	mu       sync.Mutex
	terminal Status
}

// NewReporter creates a reporter for task id. An interval of zero disables
// throttling.
func NewReporter(id string, emitter Emitter, interval time.Duration) *Reporter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Reporter{
		id:      id,
		emitter: emitter,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Progress emits a downloading event with a computed speed.
func (r *Reporter) Progress(progress, bytesPerSecond float64) {
	r.ProgressText(progress, FormatSpeed(bytesPerSecond))
}

// ProgressText emits a downloading event with a free-form speed text.
func (r *Reporter) ProgressText(progress float64, speed string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal != "" || !r.limiter.Allow() {
		return
	}
	r.send(Event{ID: r.id, Progress: clampProgress(progress), Speed: speed, Status: StatusDownloading})
}

// Start emits the initial 0% event, bypassing the throttle.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal != "" {
		return
	}
	r.limiter.Allow()
	r.send(Event{ID: r.id, Progress: 0, Speed: idleSpeed, Status: StatusDownloading})
}

// Completed emits the 100% completed event.
func (r *Reporter) Completed() bool {
	return r.Finish(StatusCompleted, "")
}

// Finish emits the terminal event. It reports false if a terminal event
// was already sent.
func (r *Reporter) Finish(status Status, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal != "" {
		return false
	}
	r.terminal = status
	ev := Event{ID: r.id, Speed: idleSpeed, Status: status}
	switch status {
	case StatusCompleted:
		ev.Progress = 100
	case StatusError:
		ev.Error = message
	}
	r.send(ev)
	return true
}

// Terminal returns the terminal status sent, or "" while the task is live.
func (r *Reporter) Terminal() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

func (r *Reporter) send(ev Event) {
	if r.emitter != nil {
		r.emitter.Emit(ev)
	}
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// capBelowDone keeps non-terminal progress under 100 until the transfer
// actually reports success.
func capBelowDone(p float64) float64 {
	if p > 99 {
		return 99
	}
	return p
}
