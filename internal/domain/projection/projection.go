// Package projection converts geographic coordinates into the projected CRS
// of an imagery tile.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Sentinel kinds for projection errors.
var (
	ErrUnsupportedCRS = errors.New("unsupported crs")
	ErrOutOfDomain    = errors.New("coordinate outside projection domain")
)

// Web Mercator stops at the latitude where the map becomes square.
const maxMercatorLat = 85.05112878

// Projector maps an EPSG:4326 (lon, lat) point into a target CRS.
type Projector interface {
	Forward(p orb.Point) (orb.Point, error)
	EPSG() int
}

// ForEPSG returns the projector for a target EPSG code. Supported are the
// geographic CRSs 4326 and 4269, Web Mercator 3857, and UTM zones in
// NAD83 (269xx) and WGS84 (326xx north, 327xx south).
func ForEPSG(code int) (Projector, error) {
	switch {
	case code == 4326 || code == 4269:
		return identity(code), nil
	case code == 3857 || code == 900913:
		return webMercator{}, nil
	case code >= 26901 && code <= 26923:
		return newUTM(code, code-26900, false, grs80), nil
	case code >= 32601 && code <= 32660:
		return newUTM(code, code-32600, false, wgs84), nil
	case code >= 32701 && code <= 32760:
		return newUTM(code, code-32700, true, wgs84), nil
	}
	return nil, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, code)
}

type identity int

func (i identity) Forward(p orb.Point) (orb.Point, error) { return p, nil }
func (i identity) EPSG() int                              { return int(i) }

type webMercator struct{}

func (webMercator) Forward(p orb.Point) (orb.Point, error) {
	if math.Abs(p.Lat()) > maxMercatorLat {
		return orb.Point{}, fmt.Errorf("%w: latitude %v", ErrOutOfDomain, p.Lat())
	}
	return project.Point(p, project.WGS84.ToMercator), nil
}

func (webMercator) EPSG() int { return 3857 }
