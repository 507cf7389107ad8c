package downloader

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Fast polling while a download is running or queued
	activeInterval = 2 * time.Second
	// Slow polling when the queue is idle
	idleInterval = 30 * time.Second
)

// SnapshotSource provides the queue state to broadcast.
type SnapshotSource interface {
	Snapshot() QueueState
}

// QueueBroadcaster periodically broadcasts the queue state as "queue:state".
// Uses adaptive polling: fast when the queue is busy, slow when idle.
type QueueBroadcaster struct {
	source    SnapshotSource
	hub       Broadcaster
	logger    zerolog.Logger
	active    time.Duration
	idle      time.Duration
	stopCh    chan struct{}
	stoppedCh chan struct{}
	triggerCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewQueueBroadcaster creates a new queue broadcaster.
func NewQueueBroadcaster(source SnapshotSource, hub Broadcaster, logger zerolog.Logger) *QueueBroadcaster {
	return &QueueBroadcaster{
		source: source,
		hub:    hub,
		logger: logger.With().Str("component", "queue-broadcaster").Logger(),
		active: activeInterval,
		idle:   idleInterval,
	}
}

// Start begins the periodic queue broadcasting.
func (b *QueueBroadcaster) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.stoppedCh = make(chan struct{})
	b.triggerCh = make(chan struct{}, 1)
	b.mu.Unlock()

	go b.run()
	b.logger.Info().
		Dur("activeInterval", b.active).
		Dur("idleInterval", b.idle).
		Msg("Queue broadcaster started with adaptive polling")
}

// Stop stops the periodic queue broadcasting.
func (b *QueueBroadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	<-b.stoppedCh
	b.logger.Info().Msg("Queue broadcaster stopped")
}

// Trigger causes an immediate broadcast and switches to fast polling.
func (b *QueueBroadcaster) Trigger() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	ch := b.triggerCh
	b.mu.Unlock()

	// A full channel means a broadcast is already pending
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *QueueBroadcaster) run() {
	defer close(b.stoppedCh)

	interval := b.intervalFor(b.broadcast())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var busy bool
		select {
		case <-b.stopCh:
			return
		case <-b.triggerCh:
			b.broadcast()
			busy = true
		case <-ticker.C:
			busy = b.broadcast()
		}
		if next := b.intervalFor(busy); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (b *QueueBroadcaster) intervalFor(busy bool) time.Duration {
	if busy {
		return b.active
	}
	return b.idle
}

// broadcast sends the current snapshot. Returns true if the queue is busy.
func (b *QueueBroadcaster) broadcast() bool {
	state := b.source.Snapshot()
	if err := b.hub.Broadcast("queue:state", state); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to broadcast queue state")
	}
	return state.Current != nil || len(state.Pending) > 0
}
