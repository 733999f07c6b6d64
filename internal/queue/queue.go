package queue

import (
	"context"
	"sync"

	"github.com/mattjoyce/switchyard/internal/protocol"
)

// Queue is an unbounded FIFO of envelopes. Push never blocks; Dequeue blocks
// on a ready signal instead of polling. Any number of producers may push
// concurrently; ordering is only guaranteed per producer.
type Queue struct {
	name string

	mu    sync.Mutex
	items []protocol.Envelope
	ready chan struct{}
}

// New creates an empty queue.
func New(name string) *Queue {
	return &Queue{
		name:  name,
		ready: make(chan struct{}, 1),
	}
}

// Name identifies the queue in logs and stats ("todo", "done").
func (q *Queue) Name() string { return q.name }

// Enqueue appends env.
func (q *Queue) Enqueue(env protocol.Envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	q.signal()
}

// TryDequeue pops the oldest envelope without waiting.
func (q *Queue) TryDequeue() (protocol.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = protocol.Envelope{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return env, true
}

// Dequeue waits until an envelope is available or ctx ends. There is no
// deadline unless ctx carries one.
func (q *Queue) Dequeue(ctx context.Context) (protocol.Envelope, error) {
	for {
		if env, ok := q.TryDequeue(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Depth reports the number of queued envelopes.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
