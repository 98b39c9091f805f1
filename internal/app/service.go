// Package service orchestrates featurization: it resolves tiles for the
// requested points, fans the per-point work out to the worker pool and
// assembles the vectors in input order.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	taskqueue "github.com/okian/geofeat/internal/adapters/mq/queue"
	workerpool "github.com/okian/geofeat/internal/adapters/mq/worker"
	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/internal/domain/rcf"
	"github.com/okian/geofeat/pkg/logger"
	"github.com/okian/geofeat/pkg/metrics"
)

// Resolver picks the tile used for a point.
type Resolver interface {
	Resolve(ctx context.Context, pt model.GeoPoint) (model.TileReference, error)
}

// Extractor reads the patch around a point.
type Extractor interface {
	Extract(ctx context.Context, pt model.GeoPoint, tile model.TileReference, bufferMeters float64) (model.RasterPatch, error)
}

// FeatureModel turns a normalized patch into a feature vector.
type FeatureModel interface {
	Forward(t rcf.Tensor) ([]float64, error)
	NumFeatures() int
	NumChannels() int
}

// Service implements the featurization API.
type Service struct {
	mu sync.RWMutex

	resolver  Resolver
	extractor Extractor
	model     FeatureModel

	queue taskqueue.Queue
	pool  *workerpool.Pool

	workerCount  int
	queueSize    int
	maxBatchSize int
	bufferMeters float64

	started   bool
	processed atomic.Int64
	zeroed    atomic.Int64

	logger logger.Logger
}

// New constructs a Service. Call Start before featurizing.
func New(resolver Resolver, extractor Extractor, m FeatureModel, opts ...Option) *Service {
	s := &Service{
		resolver:     resolver,
		extractor:    extractor,
		model:        m,
		workerCount:  DefaultWorkerCount,
		queueSize:    DefaultQueueSize,
		maxBatchSize: DefaultMaxBatchSize,
		bufferMeters: DefaultBufferMeters,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the task queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting featurization service...")

	s.queue = taskqueue.NewInMemoryQueue(taskqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s, s.logger)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "featurization service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("maxBatchSize", s.maxBatchSize),
		logger.Float64("bufferMeters", s.bufferMeters),
		logger.Int("numFeatures", s.model.NumFeatures()),
	)
	return nil
}

// Stop shuts the pool down. Tasks still queued are completed with
// workerpool.ErrStopped so waiting requests return.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping featurization service...")

	s.pool.Stop()
	drained := 0
	for t := range s.queue.Dequeue(ctx) {
		t.Job.Complete(t.Index, nil, workerpool.ErrStopped)
		drained++
	}

	s.started = false
	s.logger.Info(ctx, "featurization service stopped", logger.Int("drained", drained))
}

// running returns the queue if the service is started.
func (s *Service) running() (taskqueue.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.queue, nil
}

// Process implements workerpool.Processor: extract, check bands, run the model.
func (s *Service) Process(ctx context.Context, t model.Task) (model.FeatureVector, error) {
	p, err := s.extractor.Extract(ctx, t.Point, t.Tile, s.bufferMeters)
	if err != nil {
		return nil, err
	}
	if want := s.model.NumChannels(); p.Bands != want {
		return nil, &model.UnexpectedBandCountError{Tile: t.Tile.ID, Bands: p.Bands, Want: want}
	}

	start := time.Now()
	f, err := s.model.Forward(rcf.Normalize(p))
	metrics.RecordRCFLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return nil, fmt.Errorf("featurize %s patch %dx%d: %w", t.Tile.ID, p.Width, p.Height, err)
	}
	return f, nil
}

// FeaturizeSingle returns the vector for one point. Unlike batches, a tile
// with the wrong band count is an error.
func (s *Service) FeaturizeSingle(ctx context.Context, pt model.GeoPoint) (model.FeatureVector, error) {
	if err := pt.Validate(); err != nil {
		return nil, err
	}
	q, err := s.running()
	if err != nil {
		return nil, err
	}

	tile, err := s.resolver.Resolve(ctx, pt)
	if err != nil {
		s.recordResolveFailure(err)
		return nil, err
	}

	job := model.NewJob(ctx, 1)
	if err := s.submit(ctx, q, job, []model.GeoPoint{pt}, []model.TileReference{tile}); err != nil {
		return nil, err
	}
	if err := job.Wait(ctx); err != nil {
		return nil, err
	}
	features, errs := job.Results()
	if errs[0] != nil {
		return nil, errs[0]
	}
	s.processed.Add(1)
	metrics.RecordPointFeaturized("single")
	return features[0], nil
}

// FeaturizeBatch returns one vector per point, in input order.
//
// Resolution runs first, sequentially, and the first point without coverage
// fails the batch before any imagery is read. Rows whose tile has the wrong
// band count become zero vectors; any other per-point failure fails the batch
// with the error of the lowest failing index.
func (s *Service) FeaturizeBatch(ctx context.Context, points []model.GeoPoint) ([]model.FeatureVector, error) {
	if len(points) > s.maxBatchSize {
		return nil, &model.ValidationError{
			Reason: fmt.Sprintf("The maximum number of points you can process at once is %d", s.maxBatchSize),
		}
	}
	if len(points) == 0 {
		return []model.FeatureVector{}, nil
	}
	for i, pt := range points {
		if err := pt.Validate(); err != nil {
			return nil, &model.BatchPointError{Index: i, Point: pt, Err: err}
		}
	}
	q, err := s.running()
	if err != nil {
		return nil, err
	}
	metrics.RecordBatchSize(len(points))

	tiles := make([]model.TileReference, len(points))
	for i, pt := range points {
		tile, err := s.resolver.Resolve(ctx, pt)
		if err != nil {
			s.recordResolveFailure(err)
			return nil, &model.BatchPointError{Index: i, Point: pt, Err: err}
		}
		tiles[i] = tile
	}

	job := model.NewJob(ctx, len(points))
	if err := s.submit(ctx, q, job, points, tiles); err != nil {
		return nil, err
	}
	if err := job.Wait(ctx); err != nil {
		return nil, err
	}

	features, errs := job.Results()
	for i, err := range errs {
		if err == nil {
			continue
		}
		var bands *model.UnexpectedBandCountError
		if !errors.As(err, &bands) {
			return nil, &model.BatchPointError{Index: i, Point: points[i], Err: err}
		}
		reason := "unexpected_bands"
		if bands.Bands == 3 {
			reason = "three_band"
		}
		metrics.RecordZeroFilled(reason)
		s.zeroed.Add(1)
		s.logger.Warn(ctx, "returning zero vector",
			logger.Int("index", i),
			logger.String("tile", bands.Tile),
			logger.Int("bands", bands.Bands),
		)
		features[i] = make(model.FeatureVector, s.model.NumFeatures())
	}

	s.processed.Add(int64(len(points)))
	for range points {
		metrics.RecordPointFeaturized("batch")
	}
	return features, nil
}

// submit enqueues one task per point. If the queue refuses a task, the
// remaining slots are completed with the error so the job can finish.
func (s *Service) submit(ctx context.Context, q taskqueue.Queue, job *model.Job, points []model.GeoPoint, tiles []model.TileReference) error {
	for i := range points {
		err := q.Put(ctx, model.Task{Index: i, Point: points[i], Tile: tiles[i], Job: job})
		if err == nil {
			continue
		}
		for j := i; j < len(points); j++ {
			job.Complete(j, nil, err)
		}
		if errors.Is(err, taskqueue.ErrClosed) {
			return ErrNotStarted
		}
		return err
	}
	return nil
}

func (s *Service) recordResolveFailure(err error) {
	if errors.Is(err, model.ErrNoCoverage) {
		metrics.RecordNoCoverage()
		return
	}
	metrics.RecordErrorByComponent("resolver", "lookup_failed")
}

// MaxBatchSize returns the largest accepted batch.
func (s *Service) MaxBatchSize() int { return s.maxBatchSize }

// NumFeatures returns the length of every vector.
func (s *Service) NumFeatures() int { return s.model.NumFeatures() }

// Started reports whether the worker pool is running.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"maxBatchSize":    s.maxBatchSize,
		"bufferMeters":    s.bufferMeters,
		"numFeatures":     s.model.NumFeatures(),
		"numChannels":     s.model.NumChannels(),
		"pointsProcessed": s.processed.Load(),
		"zeroVectors":     s.zeroed.Load(),
	}
	if s.started {
		stats["queueLength"] = s.queue.Len(context.Background())
		stats["busyWorkers"] = s.pool.Busy()
	}
	return stats
}
