// Package queue buffers decisions waiting for their durable write.
package queue

import (
	"context"
	"sync"

	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Job is one decision to write. Done, if set, is called once with the
// result of the write.
type Job struct {
	Decision model.Decision
	Done     func(error)
}

// Finish reports the result of the job.
func (j Job) Finish(err error) {
	if j.Done != nil {
		j.Done(err)
	}
}

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue adds a job. It returns false if the queue is full or closed.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns a channel of jobs in enqueue order. The channel is
	// closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Job

	Len(ctx context.Context) int
	Cap() int

	// Close stops accepting jobs; queued jobs are still delivered.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueRejected("context_cancelled")
		return false
	}
	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		return true
	default:
		metrics.RecordQueueRejected("full")
		return false
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			select {
			case out <- j:
				metrics.RecordQueueDequeue()
			case <-ctx.Done():
				// undelivered jobs still need their callback
				j.Finish(ctx.Err())
				return
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) Len(context.Context) int { return len(q.jobs) }

func (q *InMemoryQueue) Cap() int { return q.capacity }

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
