// Package patch crops the square neighbourhood of a point out of an imagery tile.
package patch

import (
	"context"
	"time"

	"github.com/okian/geofeat/internal/adapters/raster"
	"github.com/okian/geofeat/internal/adapters/raster/geotiff"
	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/internal/domain/projection"
	"github.com/okian/geofeat/pkg/logger"
	"github.com/okian/geofeat/pkg/metrics"
	"github.com/paulmach/orb"
)

// Option applies a configuration option to the Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMasking controls whether pixels whose centre falls outside the
// envelope are replaced with nodata. Enabled by default.
func WithMasking(enabled bool) Option {
	return func(e *Extractor) {
		e.mask = enabled
	}
}

// Extractor reads patches. It holds no open handles and is safe for
// concurrent use.
type Extractor struct {
	source raster.Source
	logger logger.Logger
	mask   bool
}

// New creates an extractor reading tiles from source.
func New(source raster.Source, opts ...Option) *Extractor {
	e := &Extractor{source: source, logger: logger.Nop(), mask: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns every band of the window of tile covering the square of
// half-side bufferMeters around pt. Near tile edges the patch is smaller.
func (e *Extractor) Extract(ctx context.Context, pt model.GeoPoint, tile model.TileReference, bufferMeters float64) (p model.RasterPatch, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordExtractLatency(float64(time.Since(start).Microseconds()) / 1000)
		if err != nil {
			metrics.RecordTileReadError()
			e.logger.Debug(ctx, "patch extraction failed",
				logger.String("tile", tile.ID), logger.String("point", pt.String()), logger.Error(err))
		}
	}()

	h, err := e.source.Open(ctx, tile.ID)
	if err != nil {
		return model.RasterPatch{}, readErr(tile, "open", err)
	}
	defer h.Close()

	md, err := geotiff.ReadMetadata(h)
	if err != nil {
		return model.RasterPatch{}, readErr(tile, "parse", err)
	}
	if md.Transform.Rotated() {
		return model.RasterPatch{}, readErr(tile, "parse", ErrRotated)
	}

	proj, err := projection.ForEPSG(md.EPSG)
	if err != nil {
		return model.RasterPatch{}, readErr(tile, "reproject", err)
	}
	center, err := proj.Forward(orb.Point{pt.Lon, pt.Lat})
	if err != nil {
		return model.RasterPatch{}, readErr(tile, "reproject", err)
	}

	env := center.Bound().Pad(bufferMeters)
	win := PixelWindow(md.Transform, md.Width, md.Height, env)
	if win.Empty() {
		return model.RasterPatch{}, readErr(tile, "crop", ErrEmptyWindow)
	}

	pix, err := geotiff.ReadWindow(h, md, win)
	if err != nil {
		return model.RasterPatch{}, readErr(tile, "read", err)
	}
	if err := ctx.Err(); err != nil {
		return model.RasterPatch{}, err
	}

	p = model.RasterPatch{Bands: md.Bands, Height: win.H, Width: win.W, Pix: pix}
	if e.mask {
		var fill uint8
		if md.HasNoData && md.NoData >= 0 && md.NoData <= 255 {
			fill = uint8(md.NoData)
		}
		maskOutside(p, md.Transform, win, env, fill)
	}
	return p, nil
}

// maskOutside sets every band of pixels whose centre lies outside env to fill.
func maskOutside(p model.RasterPatch, gt geotiff.GeoTransform, win geotiff.Window, env orb.Bound, fill uint8) {
	plane := p.Height * p.Width
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			if env.Contains(pixelCenter(gt, win.X+x, win.Y+y)) {
				continue
			}
			for b := 0; b < p.Bands; b++ {
				p.Pix[b*plane+y*p.Width+x] = fill
			}
		}
	}
}

func readErr(tile model.TileReference, op string, err error) error {
	return &model.TileReadError{Tile: tile.ID, Op: op, Err: err}
}
