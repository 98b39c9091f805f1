// Package raster provides byte-level access to imagery tiles addressed by
// identifier: local paths, file:// URLs and http(s) URLs.
package raster

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Handle is an open tile. Each caller owns its handle and must close it.
type Handle interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Source opens tiles by identifier.
type Source interface {
	Open(ctx context.Context, id string) (Handle, error)
}

// Router dispatches identifiers to the local or the remote source by scheme.
type Router struct {
	local  Source
	remote Source
}

// NewRouter creates a router. Either source may be nil.
func NewRouter(local, remote Source) *Router {
	return &Router{local: local, remote: remote}
}

// Open implements Source.
func (r *Router) Open(ctx context.Context, id string) (Handle, error) {
	if IsRemote(id) {
		if r.remote == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSource, id)
		}
		return r.remote.Open(ctx, id)
	}
	if r.local == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, id)
	}
	return r.local.Open(ctx, id)
}

// IsRemote reports whether id is an http(s) URL.
func IsRemote(id string) bool {
	lower := strings.ToLower(id)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
