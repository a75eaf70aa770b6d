// Package events carries pipeline notifications to the UI layer through a
// bounded queue the client polls.
package events

import (
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	// KindProgress reports detector initialization progress.
	KindProgress Kind = "progress"
	// KindCandidates carries the candidate list of a detection cycle.
	KindCandidates Kind = "candidates"
	// KindCropped announces a canonical card image.
	KindCropped Kind = "cropped"
	// KindError reports a failed operation.
	KindError Kind = "error"
	// KindStatus reports a detector status change.
	KindStatus Kind = "status"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 64

// Event is one notification. Data holds a kind-specific JSON-serializable
// payload.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is a bounded FIFO of events. When full, the oldest event is dropped
// to make room. Events are delivered in push order and every event gets a
// strictly increasing sequence number, so a client can detect drops from
// gaps.
//
// An optional listener is called synchronously for every pushed event, in
// push order.
type Queue struct {
	mu       sync.Mutex
	items    []Event
	cap      int
	seq      uint64
	dropped  uint64
	listener func(Event)
	now      func() time.Time
}

// New creates a queue holding up to capacity events.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{cap: capacity, now: time.Now}
}

// SetListener registers fn to observe every subsequent event. Pass nil to
// remove it.
func (q *Queue) SetListener(fn func(Event)) {
	q.mu.Lock()
	q.listener = fn
	q.mu.Unlock()
}

// Push appends e, assigning its sequence number and timestamp.
func (q *Queue) Push(e Event) Event {
	q.mu.Lock()
	q.seq++
	e.Seq = q.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = q.now()
	}
	if len(q.items) == q.cap {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
	q.items = append(q.items, e)
	listener := q.listener

	// The listener runs under the lock so concurrent pushers cannot
	// reorder deliveries.
	if listener != nil {
		listener(e)
	}
	q.mu.Unlock()
	return e
}

// Poll removes and returns up to max events, oldest first. max <= 0
// returns everything queued.
func (q *Queue) Poll(max int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Event, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many events were discarded because the queue was
// full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
