// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"time"
)

// Index backends.
const (
	IndexManifest = "manifest"
	IndexPostGIS  = "postgis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":4042".
	Addr string `koanf:"addr"`

	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// RequestTimeout bounds one featurization request end to end.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// WorkerCount sets the number of featurization workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the task queue shared by all requests.
	QueueSize int `koanf:"queue_size"`

	// MaxBatchSize caps the points accepted by one batch request.
	MaxBatchSize int `koanf:"max_batch_size"`

	// BufferMeters is the half-side of the square patch cut around a point.
	BufferMeters float64 `koanf:"buffer_meters"`

	Model  ModelConfig  `koanf:"model"`
	Index  IndexConfig  `koanf:"index"`
	Raster RasterConfig `koanf:"raster"`
}

// ModelConfig configures the random convolutional features model.
type ModelConfig struct {
	// NumFilters is the length of every feature vector.
	NumFilters  int     `koanf:"num_filters"`
	PatchSize   int     `koanf:"patch_size"`
	NumChannels int     `koanf:"num_channels"`
	Bias        float64 `koanf:"bias"`
	Seed        int64   `koanf:"seed"`

	// WeightsPath, when set, loads the weights from this file or writes the
	// seeded weights there on first start.
	WeightsPath string `koanf:"weights_path"`
}

// IndexConfig selects and configures the tile footprint index.
type IndexConfig struct {
	// Backend is "manifest" (GeoJSON file) or "postgis".
	Backend      string `koanf:"backend"`
	ManifestPath string `koanf:"manifest_path"`

	DSN        string `koanf:"dsn"`
	Table      string `koanf:"table"`
	IDColumn   string `koanf:"id_column"`
	GeomColumn string `koanf:"geom_column"`
}

// RasterConfig configures access to tile imagery.
type RasterConfig struct {
	// Root is the directory local tile ids are resolved against.
	Root string `koanf:"root"`

	// URLQuery is appended to remote tile URLs, e.g. a SAS token.
	URLQuery string `koanf:"url_query"`

	BlockSize   int           `koanf:"block_size"`
	CacheBlocks int           `koanf:"cache_blocks"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	HTTPRetries int           `koanf:"http_retries"`

	// RedisAddr enables the shared block cache when non-empty.
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	RedisTTL      time.Duration `koanf:"redis_ttl"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":4042",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   180 * time.Second,
		RequestTimeout: 120 * time.Second,
		WorkerCount:    8,
		QueueSize:      4096,
		MaxBatchSize:   1000,
		BufferMeters:   250,
		Model: ModelConfig{
			NumFilters:  1024,
			PatchSize:   3,
			NumChannels: 4,
			Bias:        -1,
			Seed:        1234,
		},
		Index: IndexConfig{
			Backend:      IndexManifest,
			ManifestPath: "tiles.geojson",
			Table:        "tiles",
			IDColumn:     "id",
			GeomColumn:   "geom",
		},
		Raster: RasterConfig{
			Root:        ".",
			BlockSize:   256 << 10,
			CacheBlocks: 1024,
			HTTPTimeout: 30 * time.Second,
			HTTPRetries: 2,
			RedisTTL:    24 * time.Hour,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	case c.WorkerCount < 1:
		return invalid("worker_count must be positive")
	case c.QueueSize < 1:
		return invalid("queue_size must be positive")
	case c.MaxBatchSize < 1:
		return invalid("max_batch_size must be positive")
	case c.BufferMeters <= 0:
		return invalid("buffer_meters must be positive")
	case c.RequestTimeout <= 0:
		return invalid("request_timeout must be positive")
	case c.Model.NumFilters < 2 || c.Model.NumFilters%2 != 0:
		return invalid("model.num_filters must be a positive even number, got %d", c.Model.NumFilters)
	case c.Model.PatchSize < 1:
		return invalid("model.patch_size must be positive")
	case c.Model.NumChannels < 1:
		return invalid("model.num_channels must be positive")
	case c.Raster.BlockSize < 1:
		return invalid("raster.block_size must be positive")
	case c.Raster.HTTPRetries < 0:
		return invalid("raster.http_retries must not be negative")
	}

	switch c.Index.Backend {
	case IndexManifest:
		if c.Index.ManifestPath == "" {
			return invalid("index.manifest_path is required for the manifest backend")
		}
	case IndexPostGIS:
		if c.Index.DSN == "" {
			return invalid("index.dsn is required for the postgis backend")
		}
	default:
		return invalid("index.backend must be %q or %q, got %q", IndexManifest, IndexPostGIS, c.Index.Backend)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
