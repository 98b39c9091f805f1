// Package pointclient featurizes a CSV of points against a running service.
package pointclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/geofeat/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes a complete featurization run.
func Run(ctx context.Context, config *Config, stdout io.Writer) error {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting featurization run",
		logger.String("baseURL", config.BaseURL),
		logger.String("input", config.Input),
		logger.Int("batchSize", config.BatchSize),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()))

	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	points, err := readInput(config.Input)
	if err != nil {
		return err
	}
	stats.Points = len(points)

	features, err := featurizeAll(ctx, config, points, stats)
	if err != nil {
		return fmt.Errorf("featurization failed: %w", err)
	}

	if err := writeOutput(config.Output, stdout, points, features); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	client := newHTTPClient(config.Timeout)
	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func readInput(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInput, err)
	}
	defer f.Close()

	points, err := ReadPoints(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s holds no points", ErrInput, path)
	}
	return points, nil
}

func writeOutput(path string, stdout io.Writer, points []Point, features [][]float64) error {
	if path == "" {
		return WriteFeatures(stdout, points, features)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteFeatures(file, points, features); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// displayFinalStats logs the run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, pointsPerSecond float64

	if stats.Batches > 0 {
		successRate = float64(stats.Batches-stats.BatchesFailed) / float64(stats.Batches) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		pointsPerSecond = float64(stats.PointsFeatured) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("points", stats.Points),
		logger.Int("batches", stats.Batches),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("pointsPerSecond", pointsPerSecond))
}
