package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/pkg/logger"
)

// singleRequest mirrors the OpenAPI schema for POST /featurizeNAIPSingle.
// Pointers tell a missing coordinate apart from zero.
type singleRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r singleRequest) validate() error {
	switch {
	case r.Latitude == nil:
		return missing("latitude")
	case r.Longitude == nil:
		return missing("longitude")
	}
	return nil
}

type singleResponse struct {
	Latitude  float64             `json:"latitude"`
	Longitude float64             `json:"longitude"`
	Features  model.FeatureVector `json:"features"`
}

// batchRequest mirrors the OpenAPI schema for POST /featurizeNAIPBatched.
type batchRequest struct {
	Latitudes  []float64 `json:"latitudes"`
	Longitudes []float64 `json:"longitudes"`
}

func (r batchRequest) validate(maxBatch int) error {
	switch {
	case r.Latitudes == nil:
		return missing("latitudes")
	case r.Longitudes == nil:
		return missing("longitudes")
	case len(r.Latitudes) != len(r.Longitudes):
		return &model.ValidationError{Reason: "The 'latitudes' and 'longitudes' inputs are not the same length"}
	case len(r.Latitudes) > maxBatch:
		return &model.ValidationError{
			Reason: fmt.Sprintf("The maximum number of points you can process at once is %d", maxBatch),
		}
	}
	return nil
}

func (r batchRequest) points() []model.GeoPoint {
	out := make([]model.GeoPoint, len(r.Latitudes))
	for i := range r.Latitudes {
		out[i] = model.GeoPoint{Lon: r.Longitudes[i], Lat: r.Latitudes[i]}
	}
	return out
}

type batchResponse struct {
	Latitudes  []float64             `json:"latitudes"`
	Longitudes []float64             `json:"longitudes"`
	Features   []model.FeatureVector `json:"features"`
}

func missing(field string) error {
	return &model.ValidationError{Field: field, Reason: "is a required parameter but wasn't sent"}
}

// FeaturizeHandler serves the featurization routes.
type FeaturizeHandler struct {
	featurizer Featurizer
	timeout    time.Duration
	logger     logger.Logger
}

// NewFeaturizeHandler creates a featurization handler.
func NewFeaturizeHandler(f Featurizer, timeout time.Duration, log logger.Logger) *FeaturizeHandler {
	return &FeaturizeHandler{featurizer: f, timeout: timeout, logger: log}
}

// HandleSingle handles POST /featurizeNAIPSingle requests.
func (h *FeaturizeHandler) HandleSingle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req singleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	pt := model.GeoPoint{Lon: *req.Longitude, Lat: *req.Latitude}
	h.logger.Debug(ctx, "featurizing point", logger.Float64("lat", pt.Lat), logger.Float64("lon", pt.Lon))

	features, err := h.featurizer.FeaturizeSingle(ctx, pt)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, singleResponse{Latitude: pt.Lat, Longitude: pt.Lon, Features: features})
}

// HandleBatch handles POST /featurizeNAIPBatched requests.
func (h *FeaturizeHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req batchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(h.featurizer.MaxBatchSize()); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	start := time.Now()

	features, err := h.featurizer.FeaturizeBatch(ctx, req.points())
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.logger.Info(ctx, "batch featurized",
		logger.Int("points", len(features)),
		logger.Any("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, batchResponse{
		Latitudes:  req.Latitudes,
		Longitudes: req.Longitudes,
		Features:   features,
	})
}

func (h *FeaturizeHandler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(ctx, "featurization failed", logger.String("code", body.Code), logger.Error(err))
	} else {
		h.logger.Warn(ctx, "featurization rejected", logger.String("code", body.Code), logger.Error(err))
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", ErrBadRequest, err)
	}
	return nil
}
