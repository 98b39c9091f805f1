package pointclient

import (
	"fmt"
	"os"

	"github.com/okian/geofeat/pkg/logger"
)

// SetupLogging initializes the logger on stderr so CSV output on stdout
// stays clean.
func SetupLogging(verbose bool) error {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the featurize-points tool.
func ShowHelp() {
	os.Stdout.WriteString(`geofeat point featurizer
========================

Reads a CSV of lat,lon rows, posts them in batches to a running geofeat
service and writes lat,lon,f0..fn rows in input order.

Usage:
  go run ./cmd/featurize-points -input points.csv [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:4042")
  -input string
        CSV of lat,lon rows; a non-numeric first row is skipped as a header
  -output string
        Output CSV (default: stdout)
  -batch int
        Points per request (default 1000)
  -workers int
        Number of concurrent requests (default CPU cores)
  -timeout duration
        HTTP request timeout (default 5m)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/featurize-points -input points.csv -output features.csv
  go run ./cmd/featurize-points -input points.csv -batch 250 -workers 8 -url http://localhost:8080
`)
}
