package index

import "errors"

// Sentinel kinds for tile index errors.
var (
	ErrManifest = errors.New("invalid tile manifest")
	ErrQuery    = errors.New("tile index query failed")
	ErrBackend  = errors.New("unknown tile index backend")
)
