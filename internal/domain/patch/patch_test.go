package patch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/okian/geofeat/internal/adapters/raster"
	"github.com/okian/geofeat/internal/adapters/raster/geotiff"
	"github.com/okian/geofeat/internal/domain/model"
	"github.com/okian/geofeat/internal/domain/patch"
	"github.com/okian/geofeat/internal/domain/projection"
	"github.com/paulmach/orb"
	. "github.com/smartystreets/goconvey/convey"
)

const tileSize = 200

var pt = model.GeoPoint{Lon: -122.5, Lat: 47.5}

func gradient(bands int) []uint8 {
	pix := make([]uint8, bands*tileSize*tileSize)
	for b := 0; b < bands; b++ {
		for y := 0; y < tileSize; y++ {
			for x := 0; x < tileSize; x++ {
				pix[b*tileSize*tileSize+y*tileSize+x] = uint8((b*50 + y*3 + x) % 256)
			}
		}
	}
	return pix
}

// writeTile writes a 1 m UTM 10N tile whose upper-left corner sits dx metres
// west and dy metres north of the projected test point.
func writeTile(dir, name string, bands int, epsg int, dx, dy float64) model.TileReference {
	p, err := projection.ForEPSG(26910)
	So(err, ShouldBeNil)
	c, err := p.Forward(orb.Point{pt.Lon, pt.Lat})
	So(err, ShouldBeNil)

	f, err := os.Create(filepath.Join(dir, name))
	So(err, ShouldBeNil)
	defer f.Close()
	So(geotiff.Encode(f, geotiff.EncodeOptions{
		Width: tileSize, Height: tileSize, Bands: bands, Pix: gradient(bands),
		EPSG: epsg, OriginX: c.X() - dx, OriginY: c.Y() + dy, PixelSize: 1,
		TileSize: 64, Compression: geotiff.CompressionDeflate,
	}), ShouldBeNil)
	return model.NewTileReference(name)
}

func TestExtract(t *testing.T) {
	Convey("Given a 4-band tile with the point well inside", t, func() {
		dir := t.TempDir()
		tile := writeTile(dir, "m_2019_inside.tif", 4, 26910, 100.25, 100.25)
		ex := patch.New(raster.NewFileSource(dir))
		ctx := context.Background()

		Convey("When a 10 m buffer is extracted", func() {
			p, err := ex.Extract(ctx, pt, tile, 10)
			So(err, ShouldBeNil)

			Convey("Then the window covers the envelope including partial pixels", func() {
				So(p.Bands, ShouldEqual, 4)
				So(p.Height, ShouldEqual, 21)
				So(p.Width, ShouldEqual, 21)
			})

			Convey("Then interior pixels come straight from the tile", func() {
				src := gradient(4)
				ok := true
				for b := 0; b < 4; b++ {
					for y := 0; y < 20; y++ {
						for x := 0; x < 20; x++ {
							if p.At(b, y, x) != src[b*tileSize*tileSize+(90+y)*tileSize+(90+x)] {
								ok = false
							}
						}
					}
				}
				So(ok, ShouldBeTrue)
			})

			Convey("Then pixels centred outside the envelope are masked", func() {
				for b := 0; b < 4; b++ {
					So(p.At(b, 5, 20), ShouldEqual, 0)
					So(p.At(b, 20, 5), ShouldEqual, 0)
				}
			})
		})

		Convey("When masking is disabled", func() {
			p, err := patch.New(raster.NewFileSource(dir), patch.WithMasking(false)).Extract(ctx, pt, tile, 10)
			So(err, ShouldBeNil)
			So(p.At(0, 5, 20), ShouldEqual, gradient(1)[(90+5)*tileSize+110])
		})

		Convey("When many goroutines extract concurrently", func() {
			want, err := ex.Extract(ctx, pt, tile, 10)
			So(err, ShouldBeNil)
			var wg sync.WaitGroup
			results := make([]model.RasterPatch, 16)
			errs := make([]error, 16)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = ex.Extract(ctx, pt, tile, 10)
				}(i)
			}
			wg.Wait()

			Convey("Then every result is identical", func() {
				for i := range results {
					So(errs[i], ShouldBeNil)
					So(results[i], ShouldResemble, want)
				}
			})
		})

		Convey("When the point is far outside the tile", func() {
			_, err := ex.Extract(ctx, model.GeoPoint{Lon: -122.0, Lat: 47.5}, tile, 10)

			Convey("Then a tile read error reports the empty window", func() {
				So(errors.Is(err, model.ErrTileRead), ShouldBeTrue)
				So(errors.Is(err, patch.ErrEmptyWindow), ShouldBeTrue)
				var tre *model.TileReadError
				So(errors.As(err, &tre), ShouldBeTrue)
				So(tre.Tile, ShouldEqual, tile.ID)
			})
		})
	})

	Convey("Given a point near the tile's upper-left corner", t, func() {
		dir := t.TempDir()
		tile := writeTile(dir, "corner.tif", 4, 26910, 5.25, 5.25)
		p, err := patch.New(raster.NewFileSource(dir)).Extract(context.Background(), pt, tile, 10)

		Convey("Then the window is clipped to the raster, not padded", func() {
			So(err, ShouldBeNil)
			So(p.Width, ShouldEqual, 16)
			So(p.Height, ShouldEqual, 16)
			So(p.At(1, 0, 0), ShouldEqual, gradient(2)[tileSize*tileSize])
		})
	})

	Convey("Given a 3-band tile", t, func() {
		dir := t.TempDir()
		tile := writeTile(dir, "rgb.tif", 3, 26910, 100.25, 100.25)
		p, err := patch.New(raster.NewFileSource(dir)).Extract(context.Background(), pt, tile, 10)

		Convey("Then bands are returned as stored", func() {
			So(err, ShouldBeNil)
			So(p.Bands, ShouldEqual, 3)
		})
	})

	Convey("Given a tile in an unsupported CRS", t, func() {
		dir := t.TempDir()
		tile := writeTile(dir, "lambert.tif", 4, 2154, 100.25, 100.25)
		_, err := patch.New(raster.NewFileSource(dir)).Extract(context.Background(), pt, tile, 10)
		So(errors.Is(err, model.ErrTileRead), ShouldBeTrue)
		So(errors.Is(err, projection.ErrUnsupportedCRS), ShouldBeTrue)
	})

	Convey("Given a missing tile", t, func() {
		_, err := patch.New(raster.NewFileSource(t.TempDir())).Extract(context.Background(), pt, model.NewTileReference("nope.tif"), 10)
		So(errors.Is(err, model.ErrTileRead), ShouldBeTrue)
		So(errors.Is(err, raster.ErrNotFound), ShouldBeTrue)
	})

	Convey("Given a file that is not a GeoTIFF", t, func() {
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "junk.tif"), []byte("not a tiff at all"), 0o600), ShouldBeNil)
		_, err := patch.New(raster.NewFileSource(dir)).Extract(context.Background(), pt, model.NewTileReference("junk.tif"), 10)
		So(errors.Is(err, model.ErrTileRead), ShouldBeTrue)
		So(errors.Is(err, geotiff.ErrFormat), ShouldBeTrue)
	})
}

func TestPixelWindow(t *testing.T) {
	gt := geotiff.GeoTransform{1000, 0.5, 0, 2000, 0, -0.5}

	Convey("Given an envelope aligned to pixel edges", t, func() {
		w := patch.PixelWindow(gt, 100, 100, orb.Bound{Min: orb.Point{1010, 1980}, Max: orb.Point{1020, 1990}})
		So(w, ShouldResemble, geotiff.Window{X: 20, Y: 20, W: 20, H: 20})
	})

	Convey("Given an envelope straddling pixel edges", t, func() {
		w := patch.PixelWindow(gt, 100, 100, orb.Bound{Min: orb.Point{1010.2, 1980.2}, Max: orb.Point{1020.2, 1990.2}})
		So(w, ShouldResemble, geotiff.Window{X: 20, Y: 19, W: 21, H: 21})
	})

	Convey("Given an envelope hanging off the left edge", t, func() {
		w := patch.PixelWindow(gt, 100, 100, orb.Bound{Min: orb.Point{990, 1980}, Max: orb.Point{1005, 1990}})
		So(w, ShouldResemble, geotiff.Window{X: 0, Y: 20, W: 10, H: 20})
	})

	Convey("Given an envelope that misses the raster", t, func() {
		w := patch.PixelWindow(gt, 100, 100, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}})
		So(w.Empty(), ShouldBeTrue)
	})
}
