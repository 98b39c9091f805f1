package rcf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

type weightsFile struct {
	Config
	Weights []float64 `json:"weights"`
}

// SaveWeights writes the configuration and filter bank as JSON.
func (m *Model) SaveWeights(w io.Writer) error {
	return json.NewEncoder(w).Encode(weightsFile{Config: m.cfg, Weights: m.weights})
}

// LoadWeights reads a model written by SaveWeights.
func LoadWeights(r io.Reader) (*Model, error) {
	var wf weightsFile
	if err := json.NewDecoder(r).Decode(&wf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeights, err)
	}
	if err := wf.Config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeights, err)
	}
	m := newModel(wf.Config)
	if len(wf.Weights) != len(m.weights) {
		return nil, fmt.Errorf("%w: %d weights, want %d", ErrWeights, len(wf.Weights), len(m.weights))
	}
	copy(m.weights, wf.Weights)
	return m, nil
}

// LoadOrCreate loads the model persisted at path. When the file does not
// exist the seeded model built from opts is written there. A persisted model
// whose shape differs from opts is rejected.
func LoadOrCreate(path string, opts ...Option) (m *Model, created bool, err error) {
	want, err := New(opts...)
	if err != nil {
		return nil, false, err
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		loaded, err := LoadWeights(f)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", path, err)
		}
		got, exp := loaded.cfg, want.cfg
		if got.NumFilters != exp.NumFilters || got.PatchSize != exp.PatchSize || got.NumChannels != exp.NumChannels {
			return nil, false, fmt.Errorf("%w: %s holds %d filters %dx%dx%d, configured %d filters %dx%dx%d",
				ErrWeights, path, got.NumFilters, got.NumChannels, got.PatchSize, got.PatchSize,
				exp.NumFilters, exp.NumChannels, exp.PatchSize, exp.PatchSize)
		}
		return loaded, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, err
	}

	if err := writeAtomic(path, want); err != nil {
		return nil, false, err
	}
	return want, true, nil
}

func writeAtomic(path string, m *Model) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".weights-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := m.SaveWeights(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
