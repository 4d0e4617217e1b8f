package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a bounded in-process queue for deployments that run the
// repair worker inside the API binary. Messages with DedupPolicy "drop"
// are coalesced on their idempotency key while one is already in flight.
type MemoryQueue struct {
	mu      sync.Mutex
	pending chan *job.ExecutionMessage
	queued  map[string]struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		pending: make(chan *job.ExecutionMessage, capacity),
		queued:  make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("jobs: queue is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("jobs: execution message with a job id is required")
	}

	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && msg.DedupPolicy == job.DeduplicationPolicy(DedupDrop) {
		q.mu.Lock()
		if _, inFlight := q.queued[key]; inFlight {
			q.mu.Unlock()
			return nil
		}
		q.queued[key] = struct{}{}
		q.mu.Unlock()
	}

	select {
	case q.pending <- msg:
		return nil
	default:
		q.release(key)
		return fmt.Errorf("jobs: queue is full, dropping %s", msg.JobID)
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("jobs: queue is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case msg := <-q.pending:
		return &memoryDelivery{queue: q, msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.queued, key)
	q.mu.Unlock()
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.settle()
	return nil
}

// Nack releases the idempotency key and requeues only when asked to. The
// refresh repair job is re-enqueued by the next request-time failure anyway,
// so a failed run defaults to dropping rather than hot-looping.
func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	d.settle()
	if opts.Requeue {
		return d.queue.Enqueue(ctx, d.msg)
	}
	return nil
}

func (d *memoryDelivery) settle() {
	d.once.Do(func() {
		d.queue.release(strings.TrimSpace(d.msg.IdempotencyKey))
	})
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
