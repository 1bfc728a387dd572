// Package worker applies queued decisions to the durable store.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/prefstudy/internal/adapters/mq/queue"
	"github.com/okian/prefstudy/internal/domain/model"
	"github.com/okian/prefstudy/pkg/logger"
	"github.com/okian/prefstudy/pkg/metrics"
)

const (
	defaultQueueSize      = 1024
	poolShutdownTimeout   = 30 * time.Second
	metricsUpdateInterval = 5 * time.Second
)

// Applier writes one decision to the durable store.
type Applier interface {
	Apply(ctx context.Context, d model.Decision) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs from one queue, in order.
type Worker interface {
	// Run processes jobs until the queue is drained and closed or ctx ends.
	Run(ctx context.Context)
	Done() <-chan struct{}
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	applier Applier
	name    string
	done    chan struct{}
	logger  logger.Logger
}

// NewInMemoryWorker creates a worker reading q.
func NewInMemoryWorker(q Queue, applier Applier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		applier: applier,
		name:    "worker",
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	for j := range w.queue.Dequeue(ctx) {
		err := w.process(ctx, j)
		j.Finish(err)
	}
}

func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.applier.Apply(ctx, j.Decision); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "apply")
		w.logger.Error(ctx, "durable write failed",
			logger.String("session_id", j.Decision.SessionID),
			logger.Int("round", j.Decision.Sequence),
			logger.Error(err))
		return fmt.Errorf("apply %s: %w", j.Decision.Key(), err)
	}
	return nil
}

// Pool runs one worker per queue. Jobs for the same session always go to
// the same queue, so one session's decisions are written in event order.
type Pool struct {
	queues  []*queue.InMemoryQueue
	workers []*InMemoryWorker
	stop    chan struct{}
	logger  logger.Logger
}

// NewPool creates workerCount workers, each with a queue of queueSize jobs.
func NewPool(workerCount, queueSize int, applier Applier, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	p := &Pool{
		queues:  make([]*queue.InMemoryQueue, workerCount),
		workers: make([]*InMemoryWorker, workerCount),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}
	for i := range p.workers {
		p.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(queueSize))
		p.workers[i] = NewInMemoryWorker(p.queues[i], applier,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger.Named("worker-"+strconv.Itoa(i))))
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateQueueCapacity(workerCount * queueSize)
	return p
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.reportQueueSize(ctx)
}

func (p *Pool) reportQueueSize(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			metrics.UpdateQueueSize(p.Len(ctx))
		}
	}
}

// Submit routes j to its session's queue. It returns false when that queue
// is full or the pool is shutting down.
func (p *Pool) Submit(ctx context.Context, j queue.Job) bool {
	return p.queues[p.shard(j.Decision.SessionID)].Enqueue(ctx, j)
}

func (p *Pool) shard(sessionID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Len returns the number of queued jobs across all workers.
func (p *Pool) Len(ctx context.Context) int {
	n := 0
	for _, q := range p.queues {
		n += q.Len(ctx)
	}
	return n
}

// Cap returns the total queue capacity.
func (p *Pool) Cap() int {
	n := 0
	for _, q := range p.queues {
		n += q.Cap()
	}
	return n
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown stops accepting jobs and waits for queued jobs to be written.
func (p *Pool) Shutdown(ctx context.Context) error {
	select {
	case <-p.stop:
		return nil
	default:
		close(p.stop)
	}
	for _, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
		}
	}
	return nil
}
