package raster

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/geofeat/pkg/logger"
	"github.com/okian/geofeat/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// HTTPSource reads remote tiles with block-aligned range requests. Blocks
// are cached and concurrent fetches of the same block share one request.
type HTTPSource struct {
	client    *http.Client
	blockSize int64
	cache     BlockCache
	retries   int
	backoff   time.Duration
	query     string
	logger    logger.Logger

	group singleflight.Group
	sizes sync.Map // id -> int64
}

// NewHTTPSource creates a remote source.
func NewHTTPSource(opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		client:    &http.Client{Timeout: DefaultHTTPTimeout},
		blockSize: DefaultBlockSize,
		retries:   DefaultRetries,
		backoff:   defaultBackoff,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(1024)
	}
	return s
}

// Open implements Source. The object size comes from the cache or from the
// Content-Range of a fresh first-block request.
func (s *HTTPSource) Open(ctx context.Context, id string) (Handle, error) {
	size, err := s.objectSize(ctx, id)
	if err != nil {
		return nil, err
	}
	return &remoteHandle{src: s, ctx: ctx, id: id, size: size}, nil
}

func (s *HTTPSource) objectSize(ctx context.Context, id string) (int64, error) {
	if v, ok := s.sizes.Load(id); ok {
		return v.(int64), nil
	}
	key := id + "#size"
	if b, ok := s.cache.Get(ctx, key); ok && len(b) == 8 {
		n := int64(binary.BigEndian.Uint64(b))
		s.sizes.Store(id, n)
		return n, nil
	}
	if _, err := s.load(ctx, id, 0); err != nil {
		return 0, err
	}
	v, ok := s.sizes.Load(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSizeUnknown, id)
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v.(int64)))
	s.cache.Set(ctx, key, b[:])
	return v.(int64), nil
}

type remoteHandle struct {
	src  *HTTPSource
	ctx  context.Context
	id   string
	size int64
}

func (h *remoteHandle) Size() int64  { return h.size }
func (h *remoteHandle) Close() error { return nil }

// ReadAt implements io.ReaderAt over cached blocks.
func (h *remoteHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrRemote)
	}
	if off >= h.size {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > h.size {
		end = h.size
	}
	bs := h.src.blockSize
	n := 0
	for pos := off; pos < end; {
		idx := pos / bs
		b, err := h.src.block(h.ctx, h.id, idx)
		if err != nil {
			return n, err
		}
		start := pos - idx*bs
		if start >= int64(len(b)) {
			return n, io.ErrUnexpectedEOF
		}
		c := copy(p[n:end-off], b[start:])
		n += c
		pos += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *HTTPSource) blockKey(id string, idx int64) string {
	return id + "#" + strconv.FormatInt(s.blockSize, 10) + ":" + strconv.FormatInt(idx, 10)
}

func (s *HTTPSource) block(ctx context.Context, id string, idx int64) ([]byte, error) {
	key := s.blockKey(id, idx)
	if b, ok := s.cache.Get(ctx, key); ok {
		return b, nil
	}
	return s.load(ctx, id, idx)
}

// load fetches a block, sharing the request with concurrent callers, and caches it.
// The shared fetch runs detached from any one caller and is bounded by the
// client timeout; each caller stops waiting when its own context ends.
func (s *HTTPSource) load(ctx context.Context, id string, idx int64) ([]byte, error) {
	key := s.blockKey(id, idx)
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		b, err := s.fetchWithRetry(fetchCtx, id, idx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(fetchCtx, key, b)
		return b, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

func (s *HTTPSource) fetchWithRetry(ctx context.Context, id string, idx int64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordRasterFetchRetry()
			s.logger.Debug(ctx, "retrying range request",
				logger.String("tile", id), logger.Int("attempt", attempt), logger.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}
		b, retry, err := s.fetch(ctx, id, idx)
		if err == nil {
			return b, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

// fetch performs one range request; retry reports whether the failure is transient.
func (s *HTTPSource) fetch(ctx context.Context, id string, idx int64) (b []byte, retry bool, err error) {
	start := idx * s.blockSize
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.requestURL(id), nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrBadID, id, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+s.blockSize-1))

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: %s: %w", ErrRemote, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("%w: %s: %w", ErrRemote, id, err)
		}
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			s.sizes.Store(id, total)
		}
		metrics.RecordRasterBytesFetched(len(body))
		return body, false, nil
	case resp.StatusCode == http.StatusOK:
		// server ignored the range: it sent the whole object, so keep every block
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("%w: %s: %w", ErrRemote, id, err)
		}
		metrics.RecordRasterBytesFetched(len(body))
		total := int64(len(body))
		s.sizes.Store(id, total)
		want := []byte{}
		for i := int64(0); i*s.blockSize < total; i++ {
			blk := body[i*s.blockSize : min(total, (i+1)*s.blockSize)]
			if i == idx {
				want = blk
				continue
			}
			s.cache.Set(ctx, s.blockKey(id, i), blk)
		}
		return want, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, false, fmt.Errorf("%w: %s: range %d beyond object", ErrRemote, id, start)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("%w: %s: status %d", ErrRemote, id, resp.StatusCode)
	}
	return nil, false, fmt.Errorf("%w: %s: status %d", ErrRemote, id, resp.StatusCode)
}

func (s *HTTPSource) requestURL(id string) string {
	q := strings.TrimPrefix(s.query, "?")
	if q == "" {
		return id
	}
	if strings.Contains(id, "?") {
		return id + "&" + q
	}
	return id + "?" + q
}

// parseContentRangeTotal extracts the complete length from "bytes a-b/total".
func parseContentRangeTotal(v string) (int64, bool) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || v[i+1:] == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
