package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultForceCancelDelay is how long a cancelled task may keep the current
// slot before the queue moves on without it.
const DefaultForceCancelDelay = time.Second

// QueueConfig tunes the queue manager.
type QueueConfig struct {
	ForceCancelDelay time.Duration
	ProgressInterval time.Duration
}

// OutcomeRecorder persists terminal outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, out Outcome) error
}

// QueueTrigger requests an immediate queue broadcast.
type QueueTrigger interface {
	Trigger()
}

// run is one execution of the current task. The pointer identifies the
// run, so a late finish from a force-stopped run never clears a newer one.
type run struct {
	task     Task
	state    *State
	reporter *Reporter
	force    *time.Timer
	once     sync.Once
}

// Queue is a single-consumer FIFO of download tasks. Exactly one task
// executes at a time.
type Queue struct {
	runner   *Runner
	registry *Registry
	emitter  Emitter
	cfg      QueueConfig
	logger   zerolog.Logger

	recorder OutcomeRecorder
	trigger  QueueTrigger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []Task
	current *run
	closed  bool
}

// NewQueue creates a queue that executes tasks with runner and reports
// progress to emitter.
func NewQueue(runner *Runner, emitter Emitter, cfg QueueConfig, logger zerolog.Logger) *Queue {
	if cfg.ForceCancelDelay <= 0 {
		cfg.ForceCancelDelay = DefaultForceCancelDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		runner:   runner,
		registry: NewRegistry(),
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.With().Str("component", "download-queue").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetRecorder sets where terminal outcomes are persisted.
func (q *Queue) SetRecorder(r OutcomeRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recorder = r
}

// SetTrigger sets the trigger notified on every queue change.
func (q *Queue) SetTrigger(t QueueTrigger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.trigger = t
}

// SetMetrics sets the metrics sink.
func (q *Queue) SetMetrics(m *Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// Registry exposes the live per-task state.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// Enqueue appends task to the queue and starts draining if idle. A task
// whose id is already queued or current is acknowledged without change.
func (q *Queue) Enqueue(task Task) Ack {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn().Str("id", task.ID).Msg("Queue closed, rejecting download")
		return Ack{Success: false}
	}
	if q.knownLocked(task.ID) {
		q.mu.Unlock()
		q.logger.Debug().Str("id", task.ID).Msg("Download already queued")
		return Ack{Success: true}
	}
	q.pending = append(q.pending, task)
	n := len(q.pending)
	q.mu.Unlock()

	q.logger.Info().Str("id", task.ID).Str("name", task.Name).Int("queued", n).Msg("Download queued")
	q.changed()
	q.drain()
	return Ack{Success: true, Queued: true}
}

// Cancel cancels the current task or removes a queued one. Unknown ids are
// acknowledged without effect.
func (q *Queue) Cancel(id string) Ack {
	q.mu.Lock()
	if rn := q.current; rn != nil && rn.task.ID == id {
		if rn.force == nil {
			rn.force = time.AfterFunc(q.cfg.ForceCancelDelay, func() { q.forceFinish(rn) })
		}
		q.mu.Unlock()

		kind := rn.state.Cancel()
		rn.reporter.Finish(StatusCancelled, "")
		q.logger.Info().Str("id", id).Str("resource", kind.String()).Msg("Cancelled active download")
		q.changed()
		return Ack{Success: true}
	}

	for i, t := range q.pending {
		if t.ID != id {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		q.mu.Unlock()

		q.logger.Info().Str("id", id).Msg("Removed download from queue")
		q.dropQueued(t)
		q.changed()
		return Ack{Success: true}
	}
	q.mu.Unlock()
	return Ack{Success: true}
}

// Snapshot returns the current task and the pending tasks in order.
func (q *Queue) Snapshot() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueState{Pending: make([]Task, len(q.pending))}
	copy(st.Pending, q.pending)
	if q.current != nil {
		t := q.current.task
		st.Current = &t
	}
	return st
}

// Len returns the number of tasks waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects new tasks, cancels every pending task and the current one,
// and waits for running strategies to return or ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	var currentID string
	if q.current != nil {
		currentID = q.current.task.ID
	}
	q.mu.Unlock()

	for _, t := range pending {
		q.dropQueued(t)
	}
	if currentID != "" {
		q.Cancel(currentID)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	defer q.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain starts the head task if nothing is current.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.closed || q.current != nil || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	rn := &run{
		task:     task,
		state:    q.registry.Create(q.ctx, task.ID),
		reporter: NewReporter(task.ID, q.emitter, q.cfg.ProgressInterval),
	}
	q.current = rn
	q.wg.Add(1)
	q.mu.Unlock()

	q.logger.Info().Str("id", task.ID).Str("url", task.URL).Msg("Starting download")
	q.changed()
	go q.execute(rn)
}

func (q *Queue) execute(rn *run) {
	defer q.wg.Done()
	out := q.runner.Run(rn.task, rn.state, rn.reporter)
	q.finish(rn, out)
}

// finish releases rn and, if it still holds the current slot, schedules the
// next drain on a fresh goroutine.
func (q *Queue) finish(rn *run, out Outcome) {
	q.mu.Lock()
	advance := q.current == rn
	if advance {
		q.current = nil
	}
	if rn.force != nil {
		rn.force.Stop()
	}
	q.mu.Unlock()

	q.registry.Remove(rn.task.ID, rn.state)
	q.complete(rn, out)

	if advance {
		q.changed()
		go q.drain()
	}
}

// forceFinish moves the queue on when a cancelled run has not returned
// within the force-cancel delay.
func (q *Queue) forceFinish(rn *run) {
	q.mu.Lock()
	if q.current != rn {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.mu.Unlock()

	q.logger.Warn().Str("id", rn.task.ID).Dur("delay", q.cfg.ForceCancelDelay).Msg("Force-stopping cancelled download")
	q.registry.Remove(rn.task.ID, rn.state)
	q.complete(rn, Outcome{
		Task:       rn.task,
		Status:     StatusCancelled,
		FinishedAt: time.Now().UTC(),
	})
	q.changed()
	go q.drain()
}

// complete records the outcome of rn once. The status recorded is the one
// actually sent to the UI.
func (q *Queue) complete(rn *run, out Outcome) {
	rn.once.Do(func() {
		if st := rn.reporter.Terminal(); st != "" {
			out.Status = st
			if st != StatusError {
				out.Error = ""
			}
		}
		q.record(out)
	})
}

// dropQueued reports a task that never started as cancelled.
func (q *Queue) dropQueued(t Task) {
	if q.emitter != nil {
		q.emitter.Emit(Event{ID: t.ID, Speed: idleSpeed, Status: StatusCancelled})
	}
	q.record(Outcome{Task: t, Status: StatusCancelled, FinishedAt: time.Now().UTC()})
}

func (q *Queue) record(out Outcome) {
	q.mu.Lock()
	recorder, metrics := q.recorder, q.metrics
	q.mu.Unlock()

	metrics.finish(out.Status)
	if recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recorder.RecordOutcome(ctx, out); err != nil {
		q.logger.Warn().Err(err).Str("id", out.Task.ID).Msg("Failed to record download outcome")
	}
}

// changed refreshes the queue gauge and pokes the broadcaster.
func (q *Queue) changed() {
	q.mu.Lock()
	trigger, metrics, n := q.trigger, q.metrics, len(q.pending)
	q.mu.Unlock()

	metrics.setQueueLength(n)
	if trigger != nil {
		trigger.Trigger()
	}
}

func (q *Queue) knownLocked(id string) bool {
	if q.current != nil && q.current.task.ID == id {
		return true
	}
	for _, t := range q.pending {
		if t.ID == id {
			return true
		}
	}
	return false
}
