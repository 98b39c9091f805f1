package service

import (
	"github.com/okian/geofeat/pkg/logger"
)

// Default service configuration.
const (
	DefaultWorkerCount  = 8
	DefaultQueueSize    = 4096
	DefaultMaxBatchSize = 1000
	DefaultBufferMeters = 250.0
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the task queue shared by all requests.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxBatchSize sets the largest accepted batch.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithBufferMeters sets the half-side of the square patch around each point.
func WithBufferMeters(m float64) Option {
	return func(s *Service) {
		if m > 0 {
			s.bufferMeters = m
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
