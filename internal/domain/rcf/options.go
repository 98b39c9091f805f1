package rcf

import (
	"fmt"
	"math"
)

// Defaults for a library-constructed model. The service overrides
// num_filters from configuration.
const (
	DefaultNumFilters  = 16
	DefaultPatchSize   = 3
	DefaultNumChannels = 4
	DefaultBias        = -1.0
	DefaultSeed        = 1234
)

// Option applies a configuration option to the Model.
type Option func(*Config)

// Config holds the model hyperparameters.
type Config struct {
	NumFilters  int     `json:"num_filters"`
	PatchSize   int     `json:"patch_size"`
	NumChannels int     `json:"num_channels"`
	Bias        float64 `json:"bias"`
	Seed        int64   `json:"seed"`
}

// WithNumFilters sets the output dimension; it must be even.
func WithNumFilters(n int) Option {
	return func(c *Config) {
		c.NumFilters = n
	}
}

// WithPatchSize sets the square kernel size.
func WithPatchSize(k int) Option {
	return func(c *Config) {
		c.PatchSize = k
	}
}

// WithNumChannels sets the expected input channel count.
func WithNumChannels(n int) Option {
	return func(c *Config) {
		c.NumChannels = n
	}
}

// WithBias sets the constant bias added to every filter response.
func WithBias(b float64) Option {
	return func(c *Config) {
		c.Bias = b
	}
}

// WithSeed sets the seed the filter bank is drawn from.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

func defaultConfig() Config {
	return Config{
		NumFilters:  DefaultNumFilters,
		PatchSize:   DefaultPatchSize,
		NumChannels: DefaultNumChannels,
		Bias:        DefaultBias,
		Seed:        DefaultSeed,
	}
}

func (c Config) validate() error {
	switch {
	case c.NumFilters <= 0 || c.NumFilters%2 != 0:
		return fmt.Errorf("%w: num_filters must be a positive even number, got %d", ErrInvalidConfig, c.NumFilters)
	case c.PatchSize <= 0:
		return fmt.Errorf("%w: patch_size must be positive, got %d", ErrInvalidConfig, c.PatchSize)
	case c.NumChannels <= 0:
		return fmt.Errorf("%w: num_channels must be positive, got %d", ErrInvalidConfig, c.NumChannels)
	case math.IsNaN(c.Bias) || math.IsInf(c.Bias, 0):
		return fmt.Errorf("%w: bias must be finite", ErrInvalidConfig)
	}
	return nil
}
