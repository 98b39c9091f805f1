package patch

import "errors"

// Sentinel kinds for extraction errors; they arrive wrapped in model.TileReadError.
var (
	ErrEmptyWindow = errors.New("buffered point does not overlap tile")
	ErrRotated     = errors.New("rotated or sheared rasters are not supported")
)
