package raster

import (
	"net/http"
	"time"

	"github.com/okian/geofeat/pkg/logger"
)

// Default remote read settings.
const (
	DefaultBlockSize   = 256 * 1024
	DefaultRetries     = 2
	DefaultHTTPTimeout = 30 * time.Second
	defaultBackoff     = 200 * time.Millisecond
)

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets the client used for range requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithBlockSize sets the size of aligned range requests.
func WithBlockSize(n int) HTTPOption {
	return func(s *HTTPSource) {
		if n > 0 {
			s.blockSize = int64(n)
		}
	}
}

// WithCache sets the block cache.
func WithCache(c BlockCache) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) HTTPOption {
	return func(s *HTTPSource) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithBackoff sets the base delay between retries; attempt i waits i*d.
func WithBackoff(d time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithURLQuery appends a query string (for example a SAS token) to every
// request. It is not part of cache keys.
func WithURLQuery(q string) HTTPOption {
	return func(s *HTTPSource) {
		s.query = q
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) HTTPOption {
	return func(s *HTTPSource) {
		if l != nil {
			s.logger = l
		}
	}
}
