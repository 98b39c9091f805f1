package projection_test

import (
	"errors"
	"testing"

	"github.com/okian/geofeat/internal/domain/projection"
	"github.com/paulmach/orb"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUTM(t *testing.T) {
	Convey("Given the UTM zone 31 north projector", t, func() {
		p, err := projection.ForEPSG(32631)
		So(err, ShouldBeNil)
		So(p.EPSG(), ShouldEqual, 32631)

		Convey("Then the central meridian on the equator is the false origin", func() {
			xy, err := p.Forward(orb.Point{3, 0})
			So(err, ShouldBeNil)
			So(xy[0], ShouldAlmostEqual, 500000, 1e-6)
			So(xy[1], ShouldAlmostEqual, 0, 1e-6)
		})

		Convey("Then northing on the central meridian is the scaled meridian arc", func() {
			// meridian arc to 45 degrees on WGS84 is 4984944.378 m
			xy, err := p.Forward(orb.Point{3, 45})
			So(err, ShouldBeNil)
			So(xy[0], ShouldAlmostEqual, 500000, 1e-6)
			So(xy[1], ShouldAlmostEqual, 0.9996*4984944.378, 0.5)
		})

		Convey("Then eastings are symmetric about the central meridian", func() {
			east, _ := p.Forward(orb.Point{4.5, 40})
			west, _ := p.Forward(orb.Point{1.5, 40})
			So(east[0]-500000, ShouldAlmostEqual, 500000-west[0], 1e-6)
			So(east[1], ShouldAlmostEqual, west[1], 1e-6)
		})

		Convey("Then points beyond the UTM latitude band are rejected", func() {
			_, err := p.Forward(orb.Point{3, 86})
			So(errors.Is(err, projection.ErrOutOfDomain), ShouldBeTrue)
		})
	})

	Convey("Given north and south zone projectors", t, func() {
		north, _ := projection.ForEPSG(32633)
		south, _ := projection.ForEPSG(32733)

		Convey("Then southern northings mirror around the false northing", func() {
			n, _ := north.Forward(orb.Point{16, 30})
			s, _ := south.Forward(orb.Point{16, -30})
			So(s[1], ShouldAlmostEqual, 10000000-n[1], 1e-6)
			So(s[0], ShouldAlmostEqual, n[0], 1e-6)
		})
	})

	Convey("Given a NAD83 zone used by NAIP tiles", t, func() {
		p, err := projection.ForEPSG(26916)
		So(err, ShouldBeNil)
		xy, err := p.Forward(orb.Point{-87, 30.5})
		So(err, ShouldBeNil)
		So(xy[0], ShouldAlmostEqual, 500000, 1e-6)
		So(xy[1], ShouldBeGreaterThan, 3300000)
		So(xy[1], ShouldBeLessThan, 3400000)
	})
}

func TestForEPSG(t *testing.T) {
	Convey("Given geographic and web mercator codes", t, func() {
		geo, err := projection.ForEPSG(4326)
		So(err, ShouldBeNil)
		xy, _ := geo.Forward(orb.Point{-122, 47})
		So(xy, ShouldResemble, orb.Point{-122, 47})

		merc, err := projection.ForEPSG(3857)
		So(err, ShouldBeNil)
		xy, err = merc.Forward(orb.Point{0, 0})
		So(err, ShouldBeNil)
		So(xy[0], ShouldAlmostEqual, 0, 1e-6)
		So(xy[1], ShouldAlmostEqual, 0, 1e-6)
	})

	Convey("Given an unknown code", t, func() {
		_, err := projection.ForEPSG(2154)
		So(errors.Is(err, projection.ErrUnsupportedCRS), ShouldBeTrue)
	})
}
