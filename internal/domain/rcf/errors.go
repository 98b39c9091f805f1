package rcf

import "errors"

// Sentinel kinds for model errors.
var (
	ErrInvalidConfig   = errors.New("invalid rcf configuration")
	ErrPatchTooSmall   = errors.New("patch smaller than kernel")
	ErrChannelMismatch = errors.New("patch channel count does not match model")
	ErrWeights         = errors.New("invalid rcf weights")
)
