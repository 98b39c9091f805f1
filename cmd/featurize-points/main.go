package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/okian/geofeat/internal/pointclient"
)

func main() {
	var (
		baseURL   = flag.String("url", pointclient.DefaultBaseURL, "Base URL of the service")
		input     = flag.String("input", "", "CSV of lat,lon rows")
		output    = flag.String("output", "", "Output CSV (default: stdout)")
		batchSize = flag.Int("batch", pointclient.DefaultBatchSize, "Points per request")
		workers   = flag.Int("workers", runtime.NumCPU(), "Number of concurrent requests")
		timeout   = flag.Duration("timeout", pointclient.DefaultTimeout, "HTTP request timeout")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *input == "" {
		pointclient.ShowHelp()
		return
	}

	if err := pointclient.SetupLogging(*verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := &pointclient.Config{
		BaseURL:   *baseURL,
		Input:     *input,
		Output:    *output,
		BatchSize: max(*batchSize, 1),
		Workers:   max(*workers, 1),
		Timeout:   *timeout,
		Verbose:   *verbose,
	}

	if err := pointclient.Run(ctx, config, os.Stdout); err != nil {
		os.Stderr.WriteString("Featurization failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
