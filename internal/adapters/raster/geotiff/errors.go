package geotiff

import "errors"

// Sentinel kinds for GeoTIFF decoding.
var (
	ErrFormat      = errors.New("malformed tiff")
	ErrUnsupported = errors.New("unsupported tiff layout")
	ErrWindow      = errors.New("window outside raster")
)
