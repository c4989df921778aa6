package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/aws"
	"github.com/MedLarabi/compucar-sub005/internal/carrier"
)

var (
	// ErrQueueFull means the events could not be accepted right now; the
	// carrier should retry.
	ErrQueueFull   = errors.New("webhook queue full")
	ErrQueueClosed = errors.New("webhook queue closed")
)

// Queue holds accepted events until they are processed.
type Queue interface {
	// Enqueue accepts all events or none.
	Enqueue(ctx context.Context, events []carrier.Event) error
	// Close stops accepting events and waits for in-flight work.
	Close(ctx context.Context) error
}

// Handler processes one dequeued event.
type Handler interface {
	Handle(ctx context.Context, ev carrier.Event) error
}

// MemoryQueue is a bounded in-process queue drained by a fixed worker pool.
// Accepted events live only in memory until handled.
type MemoryQueue struct {
	mu      sync.Mutex
	ch      chan carrier.Event
	closed  bool
	handler Handler
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewMemoryQueue starts workers that drain a queue of the given capacity.
func NewMemoryQueue(size, workers int, h Handler, log zerolog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	q := &MemoryQueue{
		ch:      make(chan carrier.Event, size),
		handler: h,
		log:     log.With().Str("component", "webhook_queue").Logger(),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

func (q *MemoryQueue) work() {
	defer q.wg.Done()
	for ev := range q.ch {
		q.handle(ev)
	}
}

func (q *MemoryQueue) handle(ev carrier.Event) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("event_id", ev.ID).Interface("panic", r).Msg("webhook handler panicked")
		}
	}()
	// Errors are logged and counted by the handler.
	_ = q.handler.Handle(context.Background(), ev)
}

func (q *MemoryQueue) Enqueue(ctx context.Context, events []carrier.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	// Only workers receive, so free space can only grow while mu is held.
	if cap(q.ch)-len(q.ch) < len(events) {
		return ErrQueueFull
	}
	for _, ev := range events {
		q.ch <- ev
	}
	return nil
}

// Close drains queued events, waiting at most until ctx is done.
func (q *MemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain webhook queue: %w", ctx.Err())
	}
}

// Len reports the number of queued events.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// SQSQueue publishes each accepted event to SQS before the carrier is acked;
// cmd/worker consumes them.
type SQSQueue struct {
	publisher *aws.Publisher
}

func NewSQSQueue(p *aws.Publisher) *SQSQueue {
	return &SQSQueue{publisher: p}
}

func (q *SQSQueue) Enqueue(ctx context.Context, events []carrier.Event) error {
	for _, ev := range events {
		group := ev.Tracking
		if group == "" {
			group = ev.OrderRef
		}
		err := q.publisher.SendJSON(ctx, ev, aws.Message{
			Attributes: map[string]string{
				"event_id":   ev.ID,
				"carrier":    ev.Carrier,
				"event_type": ev.Type,
			},
			DedupID: ev.ID,
			// Events of one parcel stay ordered on FIFO queues.
			GroupID: group,
		})
		if err != nil {
			// Events already sent are deduplicated when the carrier retries.
			return fmt.Errorf("%w: %v", ErrQueueFull, err)
		}
	}
	return nil
}

func (q *SQSQueue) Close(context.Context) error { return nil }
