// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	service "github.com/okian/geofeat/internal/app"
	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/pkg/logger"
)

// Featurizer is what the featurization handlers need from the service.
type Featurizer interface {
	FeaturizeSingle(ctx context.Context, pt model.GeoPoint) (model.FeatureVector, error)
	FeaturizeBatch(ctx context.Context, points []model.GeoPoint) ([]model.FeatureVector, error)
	MaxBatchSize() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	featurizeHandler *FeaturizeHandler

	timeout time.Duration
	logger  logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(f Featurizer, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		timeout: DefaultRequestTimeout,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.featurizeHandler = NewFeaturizeHandler(f, s.timeout, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	single := MetricsMiddleware(s.featurizeHandler.HandleSingle, "featurize_single")
	mux.HandleFunc("/featurizeNAIPSingle", single)
	mux.HandleFunc("/featurizeSingle", single)

	batch := MetricsMiddleware(s.featurizeHandler.HandleBatch, "featurize_batch")
	mux.HandleFunc("/featurizeNAIPBatched", batch)
	mux.HandleFunc("/featurizeBatched", batch)
}

// Handler wraps the routes in mux with request ids and CORS.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return RequestIDMiddleware(CORSMiddleware(mux))
}

type errorResponse struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Index     *int     `json:"index,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNoCoverage):
		return http.StatusUnprocessableEntity, "no_coverage"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, model.ErrTileRead):
		return http.StatusInternalServerError, "tile_read_error"
	case errors.Is(err, model.ErrUnexpectedBands):
		return http.StatusInternalServerError, "unexpected_bands"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// errorBody builds the response for err, naming the failing point when known.
func errorBody(err error) (int, errorResponse) {
	status, code := classify(err)
	body := errorResponse{Code: code, Message: err.Error()}

	var pe *model.BatchPointError
	if errors.As(err, &pe) {
		idx, lat, lon := pe.Index, pe.Point.Lat, pe.Point.Lon
		body.Index, body.Latitude, body.Longitude = &idx, &lat, &lon
		body.Message = pe.Err.Error()
		if !errors.Is(pe.Err, model.ErrNoCoverage) {
			body.Message = fmt.Sprintf("%s on point %s", pe.Err, pe.Point)
		}
		return status, body
	}
	var nc *model.NoCoverageError
	if errors.As(err, &nc) {
		lat, lon := nc.Point.Lat, nc.Point.Lon
		body.Latitude, body.Longitude = &lat, &lon
	}
	return status, body
}
