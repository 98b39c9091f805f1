package patch

import (
	"math"

	"github.com/okian/geofeat/internal/adapters/raster/geotiff"
	"github.com/paulmach/orb"
)

// snap absorbs floating point noise when an envelope edge lies on a pixel edge.
const snap = 1e-6

// PixelWindow converts a CRS-space envelope to the pixel window covering it,
// clipped to a width x height raster. Partially covered pixels are included.
// The result is empty when the envelope misses the raster.
func PixelWindow(gt geotiff.GeoTransform, width, height int, env orb.Bound) geotiff.Window {
	ca := (env.Min.X() - gt[0]) / gt[1]
	cb := (env.Max.X() - gt[0]) / gt[1]
	ra := (env.Max.Y() - gt[3]) / gt[5]
	rb := (env.Min.Y() - gt[3]) / gt[5]

	c0 := int(math.Floor(math.Min(ca, cb) + snap))
	c1 := int(math.Ceil(math.Max(ca, cb) - snap))
	r0 := int(math.Floor(math.Min(ra, rb) + snap))
	r1 := int(math.Ceil(math.Max(ra, rb) - snap))

	c0, r0 = max(c0, 0), max(r0, 0)
	c1, r1 = min(c1, width), min(r1, height)
	if c1 <= c0 || r1 <= r0 {
		return geotiff.Window{}
	}
	return geotiff.Window{X: c0, Y: r0, W: c1 - c0, H: r1 - r0}
}

// pixelCenter returns the CRS coordinates of the centre of pixel (col, row).
func pixelCenter(gt geotiff.GeoTransform, col, row int) orb.Point {
	return orb.Point{
		gt[0] + (float64(col)+0.5)*gt[1],
		gt[3] + (float64(row)+0.5)*gt[5],
	}
}
