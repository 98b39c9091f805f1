package raster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSource opens tiles from the local filesystem. Relative identifiers
// resolve under root and may not escape it.
type FileSource struct {
	root string
}

// NewFileSource creates a file source rooted at root ("" means the working directory).
func NewFileSource(root string) *FileSource {
	return &FileSource{root: root}
}

type fileHandle struct {
	*os.File
	size int64
}

func (h *fileHandle) Size() int64 { return h.size }

// Open implements Source.
func (s *FileSource) Open(ctx context.Context, id string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileHandle{File: f, size: info.Size()}, nil
}

func (s *FileSource) resolve(id string) (string, error) {
	id = strings.TrimPrefix(id, "file://")
	if id == "" {
		return "", ErrBadID
	}
	if filepath.IsAbs(id) || s.root == "" {
		return filepath.Clean(id), nil
	}
	rel := filepath.Clean(filepath.FromSlash(id))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes root", ErrBadID, id)
	}
	return filepath.Join(s.root, rel), nil
}
