// Package rcf implements Random Convolutional Features: a fixed bank of
// random filters whose rectified responses are average pooled into a
// feature vector. The weights are drawn once and never trained.
package rcf

import (
	"fmt"
	"math/rand"

	"github.com/okian/geofeat/internal/domain/model"
)

// Model is immutable after construction and safe for concurrent use.
type Model struct {
	cfg  Config
	half int
	// weights is [half][channels][k][k], flattened.
	weights []float64
}

// New draws a filter bank from N(0, 1) using the configured seed.
func New(opts ...Option) (*Model, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := newModel(cfg)
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducible weights, not security sensitive
	for i := range m.weights {
		m.weights[i] = rng.NormFloat64()
	}
	return m, nil
}

func newModel(cfg Config) *Model {
	half := cfg.NumFilters / 2
	return &Model{
		cfg:     cfg,
		half:    half,
		weights: make([]float64, half*cfg.NumChannels*cfg.PatchSize*cfg.PatchSize),
	}
}

// Config returns the model hyperparameters.
func (m *Model) Config() Config { return m.cfg }

// NumFeatures is the length of every output vector.
func (m *Model) NumFeatures() int { return m.cfg.NumFilters }

// NumChannels is the channel count Forward accepts.
func (m *Model) NumChannels() int { return m.cfg.NumChannels }

// Tensor is a channel-major float image: Data[c*Height*Width + y*Width + x].
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float64
}

// Normalize scales 8-bit pixels into [0, 1].
func Normalize(p model.RasterPatch) Tensor {
	data := make([]float64, len(p.Pix))
	for i, v := range p.Pix {
		data[i] = float64(v) / 255
	}
	return Tensor{Channels: p.Bands, Height: p.Height, Width: p.Width, Data: data}
}

// Forward computes the feature vector of one input. The first half holds the
// mean of relu(conv + bias) per filter, the second half the mean of
// relu(-(conv + bias)).
func (m *Model) Forward(t Tensor) ([]float64, error) {
	k, c := m.cfg.PatchSize, m.cfg.NumChannels
	if t.Channels != c {
		return nil, fmt.Errorf("%w: got %d channels, want %d", ErrChannelMismatch, t.Channels, c)
	}
	if t.Height < k || t.Width < k {
		return nil, fmt.Errorf("%w: %dx%d patch, %dx%d kernel", ErrPatchTooSmall, t.Height, t.Width, k, k)
	}
	if len(t.Data) != c*t.Height*t.Width {
		return nil, fmt.Errorf("%w: %d samples for %dx%dx%d", ErrChannelMismatch, len(t.Data), c, t.Height, t.Width)
	}

	oh, ow := t.Height-k+1, t.Width-k+1
	plane := t.Height * t.Width
	taps := c * k * k
	window := make([]float64, taps)
	pos := make([]float64, m.half)
	neg := make([]float64, m.half)

	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			// gather the receptive field once, in weight order
			i := 0
			for ch := 0; ch < c; ch++ {
				base := ch*plane + y*t.Width + x
				for dy := 0; dy < k; dy++ {
					row := t.Data[base+dy*t.Width : base+dy*t.Width+k]
					i += copy(window[i:], row)
				}
			}
			for f := 0; f < m.half; f++ {
				w := m.weights[f*taps : (f+1)*taps]
				v := m.cfg.Bias
				for j, wj := range w {
					v += wj * window[j]
				}
				if v > 0 {
					pos[f] += v
				} else {
					neg[f] -= v
				}
			}
		}
	}

	n := float64(oh * ow)
	out := make([]float64, 2*m.half)
	for f := 0; f < m.half; f++ {
		out[f] = pos[f] / n
		out[m.half+f] = neg[f] / n
	}
	return out, nil
}

// ForwardBatch runs Forward on each input; the result has one row per input.
func (m *Model) ForwardBatch(ts []Tensor) ([][]float64, error) {
	out := make([][]float64, len(ts))
	for i, t := range ts {
		row, err := m.Forward(t)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		out[i] = row
	}
	return out, nil
}
