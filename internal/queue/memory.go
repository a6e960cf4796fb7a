package queue

import (
	"context"
	"errors"
	"log/slog"
	"simjobs/internal/apperrors"
	"sync"
)

// ErrClosed is returned once a queue has been closed.
var ErrClosed = errors.New("queue closed")

type envelope struct {
	body        []byte
	redelivered bool
}

// MemoryStats is a snapshot of in-memory queue counters.
type MemoryStats struct {
	Published int
	Pending   int
	Inflight  int
	Acked     int
	Requeued  int
	Dropped   int
}

// Memory is an in-process Queue with the same delivery contract as the broker:
// unacked messages are either requeued at the tail or dropped.
type Memory struct {
	mu         sync.Mutex
	items      []envelope
	dead       [][]byte
	stats      MemoryStats
	publishErr error
	closed     bool
	signal     chan struct{}
	done       chan struct{}
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// SetPublishError makes Publish fail with err until called again with nil.
func (q *Memory) SetPublishError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishErr = err
}

// Publish appends m to the queue.
func (q *Memory) Publish(ctx context.Context, m Message) error {
	body, err := m.Encode()
	if err != nil {
		return apperrors.Internal("queue.publish", err)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Unavailable("queue.publish", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return apperrors.Unavailable("queue.publish", ErrClosed)
	}
	if q.publishErr != nil {
		return apperrors.Unavailable("queue.publish", q.publishErr)
	}
	q.items = append(q.items, envelope{body: body})
	q.stats.Published++
	q.notify()
	return nil
}

// notify wakes one waiting consumer. Callers hold q.mu.
func (q *Memory) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Memory) pop() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return envelope{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	q.stats.Inflight++
	if len(q.items) > 0 {
		q.notify()
	}
	return e, true
}

func (q *Memory) settle(e envelope, d Decision) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.Inflight--
	switch {
	case d.Ack:
		q.stats.Acked++
	case d.Requeue && !q.closed:
		q.stats.Requeued++
		q.items = append(q.items, envelope{body: e.body, redelivered: true})
		q.notify()
	default:
		q.stats.Dropped++
		q.dead = append(q.dead, e.body)
	}
}

// Consume delivers messages to h one at a time. Several consumers may run
// concurrently against the same queue; each message goes to exactly one of them.
func (q *Memory) Consume(ctx context.Context, h Handler) error {
	for {
		e, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.done:
				return nil
			case <-q.signal:
				continue
			}
		}

		m, err := Decode(e.body)
		if err != nil {
			slog.Warn("Dropping undecodable message", "error", err)
			q.settle(e, Drop())
			continue
		}
		q.settle(e, h(ctx, Delivery{Message: m, Redelivered: e.redelivered}))
	}
}

// Ready fails once the queue is closed.
func (q *Memory) Ready(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return apperrors.Unavailable("queue.ready", ErrClosed)
	}
	return nil
}

// Close stops consumers and rejects further publishes.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Stats returns current counters.
func (q *Memory) Stats() MemoryStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.items)
	return s
}

// Dropped returns the messages rejected without requeue, oldest first.
func (q *Memory) Dropped() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, 0, len(q.dead))
	for _, body := range q.dead {
		if m, err := Decode(body); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Drain synchronously delivers pending messages to h, including ones requeued
// along the way, until the queue is empty or limit deliveries were made. It
// returns the number of deliveries.
func (q *Memory) Drain(ctx context.Context, h Handler, limit int) int {
	n := 0
	for ctx.Err() == nil && n < limit {
		e, ok := q.pop()
		if !ok {
			return n
		}
		n++
		m, err := Decode(e.body)
		if err != nil {
			q.settle(e, Drop())
			continue
		}
		q.settle(e, h(ctx, Delivery{Message: m, Redelivered: e.redelivered}))
	}
	return n
}
