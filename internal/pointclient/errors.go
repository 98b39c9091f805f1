package pointclient

import "errors"

// Sentinel kinds for client errors.
var (
	ErrInput   = errors.New("invalid input")
	ErrRequest = errors.New("featurize request failed")
)
