package acpprovider

import (
	"sync"

	"github.com/ThinkInAIXYZ/deepchat-acp-core/internal/acpcore/model"
)

// eventQueue is the single-producer/single-consumer unbounded FIFO backing
// one prompt stream (spec §4.5 step 2). push never blocks; next blocks
// until an event is available or the queue is closed.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []model.StreamEvent
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an event. Pushing after close is a no-op: a stream's
// terminal stop event always arrives before close, so any push racing the
// close that loses is, by construction, not something a well-behaved
// producer sends.
func (q *eventQueue) push(ev model.StreamEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

// next blocks until an event is available, returning (event, true), or
// returns (zero, false) once the queue is closed and drained.
func (q *eventQueue) next() (model.StreamEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return model.StreamEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// done marks the queue closed; any blocked or future next() calls drain the
// remaining buffered events and then return ok=false.
func (q *eventQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Stream exposes a read-only iteration surface over one prompt's events,
// the "finite lazy sequence of StreamEvents" of spec §4.5.
type Stream struct {
	q *eventQueue
}

// Next blocks for the next event; ok is false once the stream is exhausted.
func (s *Stream) Next() (model.StreamEvent, bool) {
	return s.q.next()
}

// All drains the stream, calling visit for each event in order until the
// stream is exhausted.
func (s *Stream) All(visit func(model.StreamEvent)) {
	for {
		ev, ok := s.q.next()
		if !ok {
			return
		}
		visit(ev)
	}
}
