// Package index provides spatial tile indexes that map a point to the
// identifiers of imagery tiles whose footprint contains it.
package index

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// minExtent keeps degenerate footprints insertable; rtreego rejects zero lengths.
const minExtent = 1e-9

// idProperties are the feature properties checked, in order, for the tile identifier.
var idProperties = []string{"url", "id", "path"} //nolint:gochecknoglobals // fixed lookup order

type footprint struct {
	id   string
	geom orb.Geometry
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (f *footprint) Bounds() rtreego.Rect {
	return f.rect
}

func (f *footprint) contains(p orb.Point) bool {
	switch g := f.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		return planar.RingContains(g, p)
	}
	return f.geom.Bound().Contains(p)
}

// ManifestIndex is an in-memory R-tree over tile footprints read from a
// GeoJSON FeatureCollection in EPSG:4326.
type ManifestIndex struct {
	tree *rtreego.Rtree
	n    int
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*ManifestIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	defer f.Close()
	return ReadManifest(f)
}

// ReadManifest builds an index from GeoJSON. Features without an identifier
// or geometry are rejected.
func ReadManifest(r io.Reader) (*ManifestIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	objs := make([]rtreego.Spatial, 0, len(fc.Features))
	for i, feat := range fc.Features {
		if feat.Geometry == nil {
			return nil, fmt.Errorf("%w: feature %d has no geometry", ErrManifest, i)
		}
		id := featureID(feat)
		if id == "" {
			return nil, fmt.Errorf("%w: feature %d has no identifier", ErrManifest, i)
		}
		b := feat.Geometry.Bound()
		rect, err := rtreego.NewRect(
			rtreego.Point{b.Min.X(), b.Min.Y()},
			[]float64{max(b.Max.X()-b.Min.X(), minExtent), max(b.Max.Y()-b.Min.Y(), minExtent)},
		)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %w", ErrManifest, i, err)
		}
		objs = append(objs, &footprint{id: id, geom: feat.Geometry, rect: rect})
	}
	return &ManifestIndex{tree: rtreego.NewTree(2, 25, 50, objs...), n: len(objs)}, nil
}

func featureID(f *geojson.Feature) string {
	for _, key := range idProperties {
		if v, ok := f.Properties[key].(string); ok && v != "" {
			return v
		}
	}
	if v, ok := f.ID.(string); ok {
		return v
	}
	return ""
}

// LookupPoint returns the identifiers of every footprint containing the point,
// in no particular order.
func (m *ManifestIndex) LookupPoint(ctx context.Context, lat, lon float64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := orb.Point{lon, lat}
	q, err := rtreego.NewRect(rtreego.Point{lon, lat}, []float64{minExtent, minExtent})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	var ids []string
	for _, s := range m.tree.SearchIntersect(q) {
		fp := s.(*footprint)
		if fp.contains(p) {
			ids = append(ids, fp.id)
		}
	}
	return ids, nil
}

// Len returns the number of indexed footprints.
func (m *ManifestIndex) Len() int {
	return m.n
}
