package api

import (
	"time"

	"github.com/okian/geofeat/pkg/logger"
)

// DefaultRequestTimeout bounds one featurization request.
const DefaultRequestTimeout = 120 * time.Second

// maxBodyBytes caps request bodies; a full batch of coordinates is far smaller.
const maxBodyBytes = 8 << 20

// Option configures the Server.
type Option func(*Server)

// WithRequestTimeout sets the deadline applied to each featurization request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used by the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
