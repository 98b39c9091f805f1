package pointclient

import "time"

// Config holds configuration for a featurization run.
type Config struct {
	BaseURL   string        // Base URL of the service
	Input     string        // CSV of lat,lon rows
	Output    string        // CSV to write; stdout when empty
	BatchSize int           // Points per request
	Workers   int           // Concurrent requests
	Timeout   time.Duration // HTTP request timeout
	Verbose   bool          // Enable verbose logging
}

// Point is one input row.
type Point struct {
	Lat float64
	Lon float64
}

// batchRequest is the body of POST /featurizeNAIPBatched.
type batchRequest struct {
	Latitudes  []float64 `json:"latitudes"`
	Longitudes []float64 `json:"longitudes"`
}

// batchResponse is the success body of POST /featurizeNAIPBatched.
type batchResponse struct {
	Features [][]float64 `json:"features"`
}

// errorResponse is the error body returned by the service.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
}

// Stats holds run statistics.
type Stats struct {
	Points         int
	Batches        int
	BatchesFailed  int
	PointsFeatured int
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
}
