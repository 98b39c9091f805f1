package raster

import "errors"

// Sentinel kinds for raster storage errors.
var (
	ErrNotFound    = errors.New("tile not found")
	ErrBadID       = errors.New("invalid tile identifier")
	ErrRemote      = errors.New("remote tile read failed")
	ErrNoSource    = errors.New("no source for tile identifier")
	ErrSizeUnknown = errors.New("remote tile size unknown")
)
