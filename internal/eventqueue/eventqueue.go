// Package eventqueue implements the bounded outbound event FIFO (spec
// §4.5): priority insertion for REJECTED-on-priority-command and FAILED
// events, drop-oldest-non-priority on overflow, and a condition-variable
// wait for the loop context to drain it (spec §5: "single mutex with a
// not-empty condition").
//
// The queue keeps its own slice storage rather than a Go channel, since
// it needs priority-aware insertion and a drop-oldest policy that a plain
// channel can't express. Pop waits (with a timeout) for a single event;
// Drain removes up to N events without waiting and has no minimum batch
// size or partial timeout.
package eventqueue

import (
	"sync"
	"time"
)

// Event is the minimal shape the queue operates on; connectsdk.Event
// satisfies this via embedding.
type Event struct {
	Kind      string
	Priority  bool
	Timestamp time.Time
	Payload   any
}

// Queue is a bounded, priority-aware FIFO. The not-empty "condition
// variable" described in spec §5 is implemented as a capacity-1
// notification channel rather than sync.Cond, so Pop's timeout path
// never leaves a goroutine blocked on a condition that may not be
// signaled again.
type Queue struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	dropped  uint64
	closed   bool
	notify   chan struct{}
}

// New creates a queue with the given bounded capacity. A capacity <= 0
// uses constants.DefaultEventQueueCapacity's value of 100.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push enqueues an event. Priority events are inserted ahead of all
// non-priority events already queued, preserving relative order among
// priority events themselves. On overflow, the oldest non-priority
// event is dropped (spec §4.5); if the queue is saturated with priority
// events, the new event is still appended (priority events are never
// dropped to make room for each other).
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if len(q.items) >= q.capacity {
		if idx := firstNonPriority(q.items); idx >= 0 {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.dropped++
		}
		// else: queue is all priority events; grow by one rather than
		// silently losing a priority event.
	}

	if e.Priority {
		idx := firstNonPriority(q.items)
		if idx < 0 {
			q.items = append(q.items, e)
		} else {
			q.items = append(q.items, Event{})
			copy(q.items[idx+1:], q.items[idx:])
			q.items[idx] = e
		}
	} else {
		q.items = append(q.items, e)
	}

	q.wake()
}

func firstNonPriority(items []Event) int {
	for i, it := range items {
		if !it.Priority {
			return i
		}
	}
	return -1
}

// Pop removes and returns the front event, blocking up to timeout if
// the queue is empty. ok is false if no event was available or the
// queue was closed.
func (q *Queue) Pop(timeout time.Duration) (Event, bool) {
	q.mu.Lock()
	if e, ok := q.popLocked(); ok {
		q.mu.Unlock()
		return e, true
	}
	if q.closed {
		q.mu.Unlock()
		return Event{}, false
	}
	q.mu.Unlock()

	select {
	case <-q.notify:
	case <-time.After(timeout):
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (Event, bool) {
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// Len returns the current number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the cumulative count of events dropped for capacity
// (the events_dropped metric, spec §4.5).
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close marks the queue closed; subsequent Push calls are no-ops and
// any blocked Pop returns immediately.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Drain removes and returns up to max queued events without blocking.
// The SDK's shutdown path (StopLoop) does not call it.
func (q *Queue) Drain(max int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	out := make([]Event, max)
	copy(out, q.items[:max])
	q.items = q.items[max:]
	return out
}
