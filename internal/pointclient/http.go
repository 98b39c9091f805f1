package pointclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/geofeat/pkg/logger"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// batch is a contiguous slice of the input starting at offset.
type batch struct {
	offset int
	points []Point
}

func splitBatches(points []Point, size int) []batch {
	var out []batch
	for off := 0; off < len(points); off += size {
		end := min(off+size, len(points))
		out = append(out, batch{offset: off, points: points[off:end]})
	}
	return out
}

// featurizeAll posts every batch using a worker pool and stores each row at
// its input position. The first failed batch is returned after all workers
// stop.
func featurizeAll(ctx context.Context, config *Config, points []Point, stats *Stats) ([][]float64, error) {
	log := logger.Get()
	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/featurizeNAIPBatched"

	batches := splitBatches(points, config.BatchSize)
	features := make([][]float64, len(points))
	log.Info(ctx, "submitting batches",
		logger.Int("points", len(points)),
		logger.Int("batches", len(batches)),
		logger.Int("workers", config.Workers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		done     int64
		failed   int64
		firstErr error
		errOnce  sync.Once
	)

	batchChan := make(chan batch, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for b := range batchChan {
				rows, err := submitBatch(ctx, client, url, b.points)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					errOnce.Do(func() {
						firstErr = fmt.Errorf("batch at row %d: %w", b.offset, err)
						cancel()
					})
					continue
				}
				copy(features[b.offset:], rows)

				n := atomic.AddInt64(&done, 1)
				if config.Verbose {
					log.Info(ctx, "batch done", logger.Int("completed", int(n)), logger.Int("total", len(batches)))
				}
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for _, b := range batches {
			select {
			case <-ctx.Done():
				return
			case batchChan <- b:
			}
		}
	}()

	wg.Wait()

	stats.Batches = len(batches)
	stats.BatchesFailed = int(atomic.LoadInt64(&failed))
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats.PointsFeatured = len(points)
	return features, nil
}

// submitBatch posts one batch and returns its rows.
func submitBatch(ctx context.Context, client *HTTPClient, url string, points []Point) ([][]float64, error) {
	req := batchRequest{
		Latitudes:  make([]float64, len(points)),
		Longitudes: make([]float64, len(points)),
	}
	for i, p := range points {
		req.Latitudes[i], req.Longitudes[i] = p.Lat, p.Lon
	}

	resp, err := client.Post(ctx, url, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			if e.Index != nil {
				return nil, fmt.Errorf("%w: %d %s: point %d: %s", ErrRequest, resp.StatusCode, e.Code, *e.Index, e.Message)
			}
			return nil, fmt.Errorf("%w: %d %s: %s", ErrRequest, resp.StatusCode, e.Code, e.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRequest, resp.StatusCode)
	}

	var out batchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrRequest, err)
	}
	if len(out.Features) != len(points) {
		return nil, fmt.Errorf("%w: sent %d points, got %d rows", ErrRequest, len(points), len(out.Features))
	}
	return out.Features, nil
}
