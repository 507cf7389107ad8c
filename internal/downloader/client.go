// Package downloader implements the local download queue: a single-consumer
// FIFO feeding a runner that tries several transport strategies in order
// until one of them succeeds, with cooperative cancellation reaching whichever
// strategy is active.
package downloader

import (
	"errors"
	"fmt"
)

// Status is the state carried by a progress event.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether no further events follow this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// idleSpeed is the speed text sent with the initial and terminal events.
const idleSpeed = "0 KB/s"

// Task is one requested download. It is immutable once enqueued.
type Task struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	ProfileID string `json:"profileId"`
}

// Event is a progress notification pushed to the UI.
type Event struct {
	ID       string  `json:"id"`
	Progress float64 `json:"progress"`
	Speed    string  `json:"speed"`
	Status   Status  `json:"status"`
	Error    string  `json:"error,omitempty"`
}

// Ack is the synchronous acknowledgement of an enqueue or cancel request.
type Ack struct {
	Success bool `json:"success"`
	Queued  bool `json:"queued,omitempty"`
}

// QueueState is a point-in-time view of the queue.
type QueueState struct {
	Current *Task  `json:"current"`
	Pending []Task `json:"pending"`
}

// Emitter receives progress events.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Broadcaster defines the interface for broadcasting messages.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// HubEmitter publishes events as "download:progress" messages.
type HubEmitter struct {
	Hub Broadcaster
}

func (e HubEmitter) Emit(ev Event) {
	if e.Hub == nil {
		return
	}
	_ = e.Hub.Broadcast("download:progress", ev)
}

var (
	ErrCancelled          = errors.New("download cancelled")
	ErrResourceBusy       = errors.New("another transfer resource is already active")
	ErrSurfaceUnavailable = errors.New("main window not available")
	ErrProfileMissing     = errors.New("profile ID is missing")
	ErrNativeTimeout      = errors.New("download timeout - no download started within the wait window")
	ErrNoStrategies       = errors.New("all download strategies failed")
)

// PreconditionError marks a failure that makes every strategy pointless.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string { return e.Err.Error() }

func (e *PreconditionError) Unwrap() error { return e.Err }

func precondition(format string, args ...interface{}) error {
	return &PreconditionError{Err: fmt.Errorf(format, args...)}
}

// IsCancelled reports whether err is, or wraps, ErrCancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
