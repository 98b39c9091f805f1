package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Typed errors below match them through errors.Is.
var (
	ErrValidation      = errors.New("invalid request")
	ErrNoCoverage      = errors.New("no imagery coverage")
	ErrTileRead        = errors.New("tile read failed")
	ErrUnexpectedBands = errors.New("unexpected band count")
)

// ValidationError reports a malformed request parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("'%s' %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NoCoverageError reports a point that no imagery tile covers.
type NoCoverageError struct {
	Point GeoPoint
}

func (e *NoCoverageError) Error() string {
	return fmt.Sprintf("no imagery tile covers point %s", e.Point)
}

// Is matches ErrNoCoverage.
func (e *NoCoverageError) Is(target error) bool { return target == ErrNoCoverage }

// TileReadError reports a failure opening, reprojecting or cropping a tile.
type TileReadError struct {
	Tile string
	Op   string
	Err  error
}

func (e *TileReadError) Error() string {
	return fmt.Sprintf("%s tile %s: %v", e.Op, e.Tile, e.Err)
}

func (e *TileReadError) Unwrap() error { return e.Err }

// Is matches ErrTileRead.
func (e *TileReadError) Is(target error) bool { return target == ErrTileRead }

// UnexpectedBandCountError reports a patch whose band count the model cannot use.
type UnexpectedBandCountError struct {
	Tile  string
	Bands int
	Want  int
}

func (e *UnexpectedBandCountError) Error() string {
	return fmt.Sprintf("tile %s has %d bands, want %d", e.Tile, e.Bands, e.Want)
}

// Is matches ErrUnexpectedBands.
func (e *UnexpectedBandCountError) Is(target error) bool { return target == ErrUnexpectedBands }

// BatchPointError attaches the failing point and its position to a batch failure.
type BatchPointError struct {
	Index int
	Point GeoPoint
	Err   error
}

func (e *BatchPointError) Error() string {
	return fmt.Sprintf("point %d %s: %v", e.Index, e.Point, e.Err)
}

func (e *BatchPointError) Unwrap() error { return e.Err }
