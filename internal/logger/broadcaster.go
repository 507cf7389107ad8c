package logger

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

const (
	defaultBufferSize = 1000
	streamQueueSize   = 256
)

// Broadcaster is the interface for broadcasting messages.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// LogEntry represents a parsed log entry for streaming.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// LogBroadcaster is an io.Writer that keeps recent zerolog entries and
// forwards them to a hub. Forwarding runs on its own goroutine so a hub
// that logs while broadcasting cannot block on itself; entries are dropped
// when the hub falls behind.
type LogBroadcaster struct {
	buffer *RingBuffer[LogEntry]

	mu      sync.Mutex
	hub     Broadcaster
	pending chan LogEntry
	done    chan struct{}
	closed  bool
}

// NewLogBroadcaster creates a new log broadcaster. hub may be nil and set later.
func NewLogBroadcaster(hub Broadcaster, bufferSize int) *LogBroadcaster {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &LogBroadcaster{
		buffer: NewRingBuffer[LogEntry](bufferSize),
	}
	if hub != nil {
		b.SetHub(hub)
	}
	return b
}

// SetHub sets the hub and starts forwarding.
func (b *LogBroadcaster) SetHub(hub Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.hub = hub
	if b.pending == nil {
		b.pending = make(chan LogEntry, streamQueueSize)
		b.done = make(chan struct{})
		go b.forward(b.pending, b.done)
	}
}

func (b *LogBroadcaster) forward(pending <-chan LogEntry, done chan<- struct{}) {
	defer close(done)
	for entry := range pending {
		b.mu.Lock()
		hub := b.hub
		b.mu.Unlock()
		if hub != nil {
			_ = hub.Broadcast("logs:entry", entry)
		}
	}
}

// Write implements io.Writer. It receives JSON log entries from zerolog.
func (b *LogBroadcaster) Write(p []byte) (int, error) {
	entry, err := parseLogEntry(p)
	if err != nil {
		return len(p), nil //nolint:nilerr // malformed entries are skipped
	}
	b.buffer.Push(entry)

	b.mu.Lock()
	if b.pending != nil && !b.closed {
		select {
		case b.pending <- entry:
		default:
		}
	}
	b.mu.Unlock()

	return len(p), nil
}

// GetRecentLogs returns all buffered log entries.
func (b *LogBroadcaster) GetRecentLogs() []LogEntry {
	return b.buffer.GetAll()
}

// Close stops forwarding and waits for queued entries to drain.
func (b *LogBroadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending, done := b.pending, b.done
	b.mu.Unlock()

	if pending != nil {
		close(pending)
		<-done
	}
}

func parseLogEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{}
	take := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}
	entry.Timestamp = take(zerolog.TimestampFieldName)
	entry.Level = take(zerolog.LevelFieldName)
	entry.Component = take("component")
	entry.Message = take(zerolog.MessageFieldName)

	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, nil
}
