package model

import (
	"context"
	"sync"
)

// Task is one (point, tile) unit of featurization work. Index addresses the
// slot of Job that receives the result.
type Task struct {
	Index int
	Point GeoPoint
	Tile  TileReference
	Job   *Job
}

// Job collects the results of one request into a preallocated,
// index-addressed buffer. Every slot must be completed exactly once.
type Job struct {
	ctx      context.Context
	features []FeatureVector
	errs     []error
	pending  sync.WaitGroup
	done     chan struct{}
}

// NewJob creates a job expecting n results.
func NewJob(ctx context.Context, n int) *Job {
	j := &Job{
		ctx:      ctx,
		features: make([]FeatureVector, n),
		errs:     make([]error, n),
		done:     make(chan struct{}),
	}
	j.pending.Add(n)
	go func() {
		j.pending.Wait()
		close(j.done)
	}()
	return j
}

// Context returns the context of the request that owns the job.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Len returns the number of slots.
func (j *Job) Len() int {
	return len(j.features)
}

// Complete stores the outcome for slot i.
func (j *Job) Complete(i int, features FeatureVector, err error) {
	j.features[i] = features
	j.errs[i] = err
	j.pending.Done()
}

// Wait blocks until every slot is completed or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the per-slot features and errors. Only valid after Wait
// returned nil.
func (j *Job) Results() ([]FeatureVector, []error) {
	return j.features, j.errs
}
