// Package tiles resolves a point to the imagery tile used to featurize it.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/pkg/metrics"
)

// Index answers which tiles contain a point. Implementations may return
// duplicates and any order; an empty result, or an error matching
// model.ErrNoCoverage, means no tile covers the point.
type Index interface {
	LookupPoint(ctx context.Context, lat, lon float64) ([]string, error)
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithYearParser overrides how acquisition years are read from identifiers.
func WithYearParser(fn func(id string) int) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.year = fn
		}
	}
}

// Resolver picks the most recent covering tile for a point.
type Resolver struct {
	index Index
	year  func(id string) int
}

// NewResolver creates a resolver over index.
func NewResolver(index Index, opts ...Option) *Resolver {
	r := &Resolver{index: index, year: model.ParseTileYear}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Candidates returns the deduplicated covering tiles ordered by (year, id)
// ascending.
func (r *Resolver) Candidates(ctx context.Context, pt model.GeoPoint) ([]model.TileReference, error) {
	start := time.Now()
	defer func() {
		metrics.RecordResolveLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	ids, err := r.index.LookupPoint(ctx, pt.Lat, pt.Lon)
	if err != nil {
		if errors.Is(err, model.ErrNoCoverage) {
			return nil, &model.NoCoverageError{Point: pt}
		}
		return nil, fmt.Errorf("lookup tiles for %s: %w", pt, err)
	}
	refs := model.SortTiles(ids)
	for i := range refs {
		refs[i].Year = r.year(refs[i].ID)
	}
	// re-sort in case a custom year parser disagrees with the default order
	model.SortTileReferences(refs)
	if len(refs) == 0 {
		return nil, &model.NoCoverageError{Point: pt}
	}
	return refs, nil
}

// Resolve returns the most recent covering tile; ties on year go to the
// lexically greatest identifier.
func (r *Resolver) Resolve(ctx context.Context, pt model.GeoPoint) (model.TileReference, error) {
	refs, err := r.Candidates(ctx, pt)
	if err != nil {
		return model.TileReference{}, err
	}
	return refs[len(refs)-1], nil
}
