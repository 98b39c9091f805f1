package projection

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const (
	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
	utmMaxLat        = 84.5
	utmMinLat        = -80.5
	// Beyond this distance from the central meridian the series loses accuracy.
	utmMaxLonOffset = 30.0
)

type ellipsoid struct {
	a float64 // semi-major axis, metres
	f float64 // flattening
}

var (
	grs80 = ellipsoid{a: 6378137, f: 1 / 298.257222101}
	wgs84 = ellipsoid{a: 6378137, f: 1 / 298.257223563}
)

// utm is a transverse Mercator projection evaluated with the Krüger series
// to third order in n, accurate to well under a millimetre within a zone.
type utm struct {
	code  int
	south bool
	lon0  float64 // central meridian, radians
	e     float64 // first eccentricity
	bigA  float64 // rectifying radius
	alpha [3]float64
}

func newUTM(code, zone int, south bool, el ellipsoid) *utm {
	n := el.f / (2 - el.f)
	n2, n3 := n*n, n*n*n
	return &utm{
		code:  code,
		south: south,
		lon0:  float64(zone*6-183) * math.Pi / 180,
		e:     math.Sqrt(el.f * (2 - el.f)),
		bigA:  el.a / (1 + n) * (1 + n2/4 + n2*n2/64),
		alpha: [3]float64{
			n/2 - 2*n2/3 + 5*n3/16,
			13*n2/48 - 3*n3/5,
			61 * n3 / 240,
		},
	}
}

func (u *utm) EPSG() int { return u.code }

func (u *utm) Forward(p orb.Point) (orb.Point, error) {
	lat, lon := p.Lat(), p.Lon()
	if lat > utmMaxLat || lat < utmMinLat {
		return orb.Point{}, fmt.Errorf("%w: latitude %v outside UTM", ErrOutOfDomain, lat)
	}
	phi := lat * math.Pi / 180
	dl := math.Remainder(lon*math.Pi/180-u.lon0, 2*math.Pi)
	if math.Abs(dl) > utmMaxLonOffset*math.Pi/180 {
		return orb.Point{}, fmt.Errorf("%w: longitude %v too far from zone of EPSG:%d", ErrOutOfDomain, lon, u.code)
	}

	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - u.e*math.Atanh(u.e*sinPhi))
	xi := math.Atan2(t, math.Cos(dl))
	eta := math.Atanh(math.Sin(dl) / math.Sqrt(1+t*t))

	x, y := eta, xi
	for j, a := range u.alpha {
		k := 2 * float64(j+1)
		x += a * math.Cos(k*xi) * math.Sinh(k*eta)
		y += a * math.Sin(k*xi) * math.Cosh(k*eta)
	}

	easting := utmFalseEasting + utmScale*u.bigA*x
	northing := utmScale * u.bigA * y
	if u.south {
		northing += utmFalseNorthing
	}
	return orb.Point{easting, northing}, nil
}
