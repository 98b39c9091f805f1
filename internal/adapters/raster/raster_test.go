package raster_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/okian/geofeat/internal/adapters/raster"
	. "github.com/smartystreets/goconvey/convey"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestFileSource(t *testing.T) {
	Convey("Given a directory with a tile", t, func() {
		dir := t.TempDir()
		data := payload(1000)
		So(os.MkdirAll(filepath.Join(dir, "v002", "wa", "2019"), 0o755), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "v002", "wa", "2019", "t.tif"), data, 0o600), ShouldBeNil)
		src := raster.NewFileSource(dir)
		ctx := context.Background()

		Convey("When opening a relative identifier", func() {
			h, err := src.Open(ctx, "v002/wa/2019/t.tif")
			So(err, ShouldBeNil)
			defer h.Close()

			Convey("Then the handle reads the file", func() {
				So(h.Size(), ShouldEqual, 1000)
				buf := make([]byte, 10)
				_, err := h.ReadAt(buf, 500)
				So(err, ShouldBeNil)
				So(buf, ShouldResemble, data[500:510])
			})
		})

		Convey("When opening a file:// identifier", func() {
			h, err := src.Open(ctx, "file://v002/wa/2019/t.tif")
			So(err, ShouldBeNil)
			So(h.Close(), ShouldBeNil)
		})

		Convey("When the tile is missing", func() {
			_, err := src.Open(ctx, "v002/wa/2019/missing.tif")
			So(errors.Is(err, raster.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the identifier escapes the root", func() {
			_, err := src.Open(ctx, "../etc/passwd")
			So(errors.Is(err, raster.ErrBadID), ShouldBeTrue)
		})
	})
}

func TestRouter(t *testing.T) {
	Convey("Given a router with only a local source", t, func() {
		r := raster.NewRouter(raster.NewFileSource(t.TempDir()), nil)

		Convey("When an http identifier is opened", func() {
			_, err := r.Open(context.Background(), "https://example.com/a.tif")
			So(errors.Is(err, raster.ErrNoSource), ShouldBeTrue)
		})

		Convey("Then scheme detection is case-insensitive", func() {
			So(raster.IsRemote("HTTPS://x/y.tif"), ShouldBeTrue)
			So(raster.IsRemote("/data/y.tif"), ShouldBeFalse)
		})
	})
}

func TestMemoryCache(t *testing.T) {
	Convey("Given a two-block LRU", t, func() {
		ctx := context.Background()
		c := raster.NewMemoryCache(2)
		c.Set(ctx, "a", []byte{1})
		c.Set(ctx, "b", []byte{2})

		Convey("When a third block arrives after touching the first", func() {
			_, ok := c.Get(ctx, "a")
			So(ok, ShouldBeTrue)
			c.Set(ctx, "c", []byte{3})

			Convey("Then the least recently used block is evicted", func() {
				So(c.Len(), ShouldEqual, 2)
				_, ok := c.Get(ctx, "b")
				So(ok, ShouldBeFalse)
				v, ok := c.Get(ctx, "a")
				So(ok, ShouldBeTrue)
				So(v, ShouldResemble, []byte{1})
			})
		})

		Convey("When the caller mutates a slice after Set", func() {
			b := []byte{9, 9}
			c.Set(ctx, "d", b)
			b[0] = 0
			v, _ := c.Get(ctx, "d")
			So(v[0], ShouldEqual, 9)
		})
	})
}

func TestRedisAndTieredCache(t *testing.T) {
	Convey("Given a Redis cache behind an in-process LRU", t, func() {
		mr := miniredis.RunT(t)
		client := raster.OpenRedis(mr.Addr(), "", 0)
		defer client.Close()
		ctx := context.Background()

		far := raster.NewRedisCache(client, time.Minute, nil)
		near := raster.NewMemoryCache(4)
		tiered := raster.NewTieredCache(near, far)

		Convey("When a block is set", func() {
			tiered.Set(ctx, "tile#1:0", []byte("block"))

			Convey("Then both layers hold it", func() {
				So(mr.Exists("geofeat:block:tile#1:0"), ShouldBeTrue)
				v, ok := near.Get(ctx, "tile#1:0")
				So(ok, ShouldBeTrue)
				So(string(v), ShouldEqual, "block")
			})
		})

		Convey("When only Redis holds a block", func() {
			far.Set(ctx, "shared", []byte("from-redis"))
			v, ok := tiered.Get(ctx, "shared")

			Convey("Then it is served and copied into the near layer", func() {
				So(ok, ShouldBeTrue)
				So(string(v), ShouldEqual, "from-redis")
				So(near.Len(), ShouldEqual, 1)
			})
		})

		Convey("When Redis goes away", func() {
			mr.Close()
			_, ok := far.Get(ctx, "anything")
			So(ok, ShouldBeFalse)
		})

		Convey("Then an empty address yields no client", func() {
			So(raster.OpenRedis("", "", 0), ShouldBeNil)
			So(raster.NewTieredCache(near, nil), ShouldEqual, near)
		})
	})
}

type rangeServer struct {
	data     []byte
	requests atomic.Int64
	failures atomic.Int64 // respond 503 while positive
	mu       sync.Mutex
	queries  []string
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()
	if r.URL.Path != "/tiles/a.tif" {
		http.NotFound(w, r)
		return
	}
	if s.failures.Add(-1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	http.ServeContent(w, r, "a.tif", time.Time{}, bytes.NewReader(s.data))
}

func TestHTTPSource(t *testing.T) {
	Convey("Given a server supporting range requests", t, func() {
		rs := &rangeServer{data: payload(10_000)}
		srv := httptest.NewServer(rs)
		defer srv.Close()
		ctx := context.Background()
		id := srv.URL + "/tiles/a.tif"

		src := raster.NewHTTPSource(
			raster.WithBlockSize(1024),
			raster.WithBackoff(0),
			raster.WithURLQuery("?sig=abc"),
			raster.WithCache(raster.NewMemoryCache(64)),
		)

		Convey("When reading across block boundaries", func() {
			h, err := src.Open(ctx, id)
			So(err, ShouldBeNil)
			buf := make([]byte, 3000)
			n, err := h.ReadAt(buf, 1500)

			Convey("Then the bytes match and the size is known", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3000)
				So(buf, ShouldResemble, rs.data[1500:4500])
				So(h.Size(), ShouldEqual, 10_000)
			})

			Convey("Then the query is sent on every request", func() {
				rs.mu.Lock()
				defer rs.mu.Unlock()
				for _, q := range rs.queries {
					So(q, ShouldEqual, "sig=abc")
				}
			})

			Convey("Then re-reading is served from cache", func() {
				before := rs.requests.Load()
				_, err := h.ReadAt(buf, 1500)
				So(err, ShouldBeNil)
				So(rs.requests.Load(), ShouldEqual, before)
			})
		})

		Convey("When reading past the end", func() {
			h, err := src.Open(ctx, id)
			So(err, ShouldBeNil)
			buf := make([]byte, 100)
			n, err := h.ReadAt(buf, 9950)
			So(n, ShouldEqual, 50)
			So(err, ShouldEqual, io.EOF)
			So(buf[:50], ShouldResemble, rs.data[9950:])
		})

		Convey("When the server fails transiently", func() {
			rs.failures.Store(2)
			h, err := src.Open(ctx, id)

			Convey("Then the request is retried", func() {
				So(err, ShouldBeNil)
				So(h.Size(), ShouldEqual, 10_000)
				So(rs.requests.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the server keeps failing", func() {
			rs.failures.Store(100)
			_, err := src.Open(ctx, id)
			So(errors.Is(err, raster.ErrRemote), ShouldBeTrue)
			So(rs.requests.Load(), ShouldEqual, 1+raster.DefaultRetries)
		})

		Convey("When the tile does not exist", func() {
			_, err := src.Open(ctx, srv.URL+"/tiles/missing.tif")
			So(errors.Is(err, raster.ErrNotFound), ShouldBeTrue)
			So(rs.requests.Load(), ShouldEqual, 1)
		})
	})
}

// gatedServer holds every request until release is closed.
type gatedServer struct {
	data    []byte
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() { close(s.arrived) })
	select {
	case <-s.release:
	case <-r.Context().Done():
		return
	}
	http.ServeContent(w, r, "a.tif", time.Time{}, bytes.NewReader(s.data))
}

func TestHTTPSourceSharedFetch(t *testing.T) {
	Convey("Given two callers waiting on the same block", t, func() {
		gs := &gatedServer{data: payload(4096), arrived: make(chan struct{}), release: make(chan struct{})}
		srv := httptest.NewServer(gs)
		defer srv.Close()
		id := srv.URL + "/tiles/a.tif"
		src := raster.NewHTTPSource(raster.WithBlockSize(1024), raster.WithBackoff(0))

		ctxA, cancelA := context.WithCancel(context.Background())
		defer cancelA()
		errA := make(chan error, 1)
		go func() {
			_, err := src.Open(ctxA, id)
			errA <- err
		}()
		<-gs.arrived

		type opened struct {
			h   raster.Handle
			err error
		}
		openedB := make(chan opened, 1)
		go func() {
			h, err := src.Open(context.Background(), id)
			openedB <- opened{h, err}
		}()
		time.Sleep(50 * time.Millisecond)

		Convey("When the first caller is cancelled", func() {
			cancelA()
			So(errors.Is(<-errA, context.Canceled), ShouldBeTrue)
			close(gs.release)
			b := <-openedB

			Convey("Then the other caller still gets the block", func() {
				So(b.err, ShouldBeNil)
				So(b.h.Size(), ShouldEqual, int64(4096))
			})
		})
	})
}

func TestHTTPSourceWithoutRangeSupport(t *testing.T) {
	Convey("Given a server that ignores range requests", t, func() {
		data := payload(5000)
		var requests atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			_, _ = w.Write(data)
		}))
		defer srv.Close()
		src := raster.NewHTTPSource(raster.WithBlockSize(1024), raster.WithCache(raster.NewMemoryCache(64)))

		Convey("When the whole tile is read", func() {
			h, err := src.Open(context.Background(), srv.URL+"/tiles/a.tif")
			So(err, ShouldBeNil)
			buf := make([]byte, len(data))
			n, err := h.ReadAt(buf, 0)

			Convey("Then one download fills every block", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, len(data))
				So(buf, ShouldResemble, data)
				So(h.Size(), ShouldEqual, int64(5000))
				So(requests.Load(), ShouldEqual, int64(1))
			})
		})
	})
}
