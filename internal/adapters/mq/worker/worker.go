// Package worker runs featurization tasks pulled from the queue and writes
// each result into the slot of the job that owns it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/geofeat/internal/adapters/mq/queue"
	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/pkg/logger"
	"github.com/okian/geofeat/pkg/metrics"
)

// Default worker configuration constants.
const (
	DefaultWorkerCount  = 8
	poolShutdownTimeout = 30 * time.Second
)

// Task is what workers read off the queue.
type Task = model.Task

// Processor turns one task into a feature vector.
type Processor interface {
	Process(ctx context.Context, t Task) (model.FeatureVector, error)
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// Worker processes tasks until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current task.
	Shutdown(ctx context.Context) error
}

type busyCounter struct {
	n atomic.Int64
}

func (b *busyCounter) add(d int64) {
	if b == nil {
		return
	}
	metrics.UpdateWorkerBusy(int(b.n.Add(d)))
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string
	busy      *busyCounter
	processed atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		processor: p,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			w.processTask(t)
		}
	}
}

// Shutdown stops the worker after its current task.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns the number of tasks this worker completed.
func (w *InMemoryWorker) Processed() int64 {
	return w.processed.Load()
}

// processTask runs one task under its job's context. Tasks whose request is
// already gone are completed with the context error without any I/O.
func (w *InMemoryWorker) processTask(t Task) {
	ctx := t.Job.Context()
	if err := ctx.Err(); err != nil {
		t.Job.Complete(t.Index, nil, err)
		return
	}

	w.busy.add(1)
	start := time.Now()
	defer func() {
		w.busy.add(-1)
		w.processed.Add(1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	features, err := w.safeProcess(ctx, t)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		metrics.RecordWorkerError()
		w.logger.Debug(ctx, "task failed",
			logger.Int("index", t.Index),
			logger.String("tile", t.Tile.ID),
			logger.Error(err),
		)
	}
	t.Job.Complete(t.Index, features, err)
}

// safeProcess turns a panic into an error so a job slot is never left open.
func (w *InMemoryWorker) safeProcess(ctx context.Context, t Task) (f model.FeatureVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(ctx, "task panicked", logger.Int("index", t.Index), logger.Any("panic", r))
			f, err = nil, fmt.Errorf("task %d panicked: %v", t.Index, r)
		}
	}()
	return w.processor.Process(ctx, t)
}

// Pool manages a fixed set of workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	busy    busyCounter

	stopOnce sync.Once
	logger   logger.Logger
}

// NewPool creates a pool of workerCount workers; values below one use
// DefaultWorkerCount. A nil log discards output.
func NewPool(workerCount int, q Queue, p Processor, log logger.Logger) *Pool {
	if workerCount < 1 {
		workerCount = DefaultWorkerCount
	}
	if log == nil {
		log = logger.Nop()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  log.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, p,
			WithLogger(log),
			WithName("worker-"+strconv.Itoa(i)),
			withBusy(&pool.busy),
		)
	}

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerBusy(0)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Busy returns the number of workers processing a task.
func (p *Pool) Busy() int {
	return int(p.busy.n.Load())
}

// Processed returns the number of tasks completed by all workers.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Stop signals every worker and waits up to the pool timeout.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
	defer cancel()
	_ = p.Shutdown(ctx)
}

// Shutdown closes the queue, then stops every worker after its current
// task. Tasks left in the queue are not processed.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}
		for _, w := range p.workers {
			w.shutdownOnce.Do(func() { close(w.shutdown) })
		}
		for i, w := range p.workers {
			if werr := w.Shutdown(ctx); werr != nil {
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = werr
			}
		}
	})
	return err
}

var _ Queue = (*queue.InMemoryQueue)(nil)
