package logging

import (
	"context"
	"strings"
	"sync"
	"time"
)

// LogEvent is one structured log line held by the stream hub. Its JSON shape
// matches what the desktop log viewer renders.
type LogEvent struct {
	Sequence  uint64            `json:"seq" msgpack:"seq"`
	Timestamp time.Time         `json:"timestamp" msgpack:"timestamp"`
	Level     string            `json:"level" msgpack:"level"`
	Logger    string            `json:"logger" msgpack:"logger"`
	Message   string            `json:"message" msgpack:"message"`
	JobID     string            `json:"job_id,omitempty" msgpack:"job_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

// Sink receives every published event (persistence, etc.).
type Sink interface {
	Append(LogEvent)
}

// StreamHub keeps recent log events in a bounded buffer and fans them out to
// sinks and live subscribers.
type StreamHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []LogEvent
	nextSeq  uint64
	sinks    []Sink
	subs     map[chan LogEvent]struct{}
}

// NewStreamHub constructs a hub holding at most capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &StreamHub{
		capacity: capacity,
		subs:     make(map[chan LogEvent]struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink registers a sink that receives every published event.
func (h *StreamHub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish appends an event, assigning its sequence number.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	sinks := append([]Sink(nil), h.sinks...)
	for ch := range h.subs {
		// slow subscribers drop events rather than stall logging
		select {
		case ch <- evt:
		default:
		}
	}
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
}

// Subscribe returns a channel receiving events published after the call and
// a function that detaches it.
func (h *StreamHub) Subscribe(buffer int) (<-chan LogEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LogEvent, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Fetch returns events with sequence greater than since. When wait is true it
// blocks until at least one event is available or ctx ends. A since beyond the
// newest sequence is treated as 0.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	// a cursor from before a restart is ahead of this hub; start over
	if since > h.nextSeq {
		since = 0
	}

	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
	}
}

// Tail returns the most recent limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]LogEvent, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

func (h *StreamHub) snapshotLocked(since uint64, limit int) ([]LogEvent, uint64) {
	var out []LogEvent
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			break
		}
	}
	next := since
	if len(out) > 0 {
		next = out[len(out)-1].Sequence
	}
	return out, next
}

// FilterLevel keeps events at or above the named level. An empty or "all"
// level keeps everything.
func FilterLevel(events []LogEvent, level string) []LogEvent {
	min, ok := LevelRank(level)
	if !ok {
		return events
	}
	out := events[:0:0]
	for _, evt := range events {
		if rank, _ := LevelRank(evt.Level); rank >= min {
			out = append(out, evt)
		}
	}
	return out
}

// LevelRank orders level names from debug (0) to error (3). Unknown names
// report false.
func LevelRank(level string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0, true
	case "info":
		return 1, true
	case "warn", "warning":
		return 2, true
	case "error", "dpanic", "panic", "fatal", "critical":
		return 3, true
	default:
		return 0, false
	}
}
