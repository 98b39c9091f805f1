package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/geofeat/internal/adapters/http/api"
	service "github.com/okian/geofeat/internal/app"
	"github.com/okian/geofeat/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// mockFeaturizer echoes the longitude as a two-element vector unless err is set.
type mockFeaturizer struct {
	err      error
	maxBatch int
	calls    int
	delay    time.Duration
}

func (m *mockFeaturizer) FeaturizeSingle(ctx context.Context, pt model.GeoPoint) (model.FeatureVector, error) {
	m.calls++
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return model.FeatureVector{pt.Lon, pt.Lat}, nil
}

func (m *mockFeaturizer) FeaturizeBatch(ctx context.Context, points []model.GeoPoint) ([]model.FeatureVector, error) {
	m.calls++
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.FeatureVector, len(points))
	for i, pt := range points {
		out[i] = model.FeatureVector{pt.Lon, pt.Lat}
	}
	return out, nil
}

func (m *mockFeaturizer) wait(ctx context.Context) error {
	if m.delay == 0 {
		return nil
	}
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockFeaturizer) MaxBatchSize() int {
	if m.maxBatch == 0 {
		return 1000
	}
	return m.maxBatch
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

type errorBody struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Index     *int     `json:"index"`
}

func newHandler(f *mockFeaturizer, opts ...api.Option) http.Handler {
	server := api.NewServer(f, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return server.Handler(mux)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(w *httptest.ResponseRecorder) errorBody {
	var body errorBody
	So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
	return body
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHandler(&mockFeaturizer{})

		Convey("Then health endpoint serves metrics", func() {
			w := do(h, "GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then stats endpoint returns JSON", func() {
			w := do(h, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then every response carries CORS headers", func() {
			w := do(h, "GET", "/stats", "")
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			So(w.Header().Get("Access-Control-Allow-Methods"), ShouldEqual, "PUT, GET, POST, DELETE, OPTIONS")
			So(w.Header().Get("Access-Control-Allow-Headers"), ShouldEqual, "Origin, Accept, Content-Type, X-Requested-With, X-CSRF-Token")
		})

		Convey("Then OPTIONS on a featurize route is a 204 preflight", func() {
			for _, path := range []string{"/featurizeNAIPSingle", "/featurizeNAIPBatched", "/featurizeSingle", "/featurizeBatched"} {
				w := do(h, "OPTIONS", path, "")
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			}
		})

		Convey("Then a request id is generated when absent", func() {
			w := do(h, "GET", "/stats", "")
			So(len(w.Header().Get(api.RequestIDHeader)), ShouldEqual, 36)
		})

		Convey("Then a supplied request id is echoed", func() {
			req := httptest.NewRequest("GET", "/stats", nil)
			req.Header.Set(api.RequestIDHeader, "abc-123")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Header().Get(api.RequestIDHeader), ShouldEqual, "abc-123")
		})

		Convey("Then GET on a featurize route is not found", func() {
			w := do(h, "GET", "/featurizeNAIPBatched", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then unknown paths are not found", func() {
			w := do(h, "GET", "/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestFeaturizeSingle(t *testing.T) {
	Convey("Given the single point route", t, func() {
		f := &mockFeaturizer{}
		h := newHandler(f)

		Convey("When a point is posted", func() {
			w := do(h, "POST", "/featurizeNAIPSingle", `{"latitude": 47.5, "longitude": -122.5}`)

			Convey("Then the point is echoed with its features", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Latitude  float64   `json:"latitude"`
					Longitude float64   `json:"longitude"`
					Features  []float64 `json:"features"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Latitude, ShouldEqual, 47.5)
				So(resp.Longitude, ShouldEqual, -122.5)
				So(resp.Features, ShouldResemble, []float64{-122.5, 47.5})
			})
		})

		Convey("When a zero coordinate is posted", func() {
			w := do(h, "POST", "/featurizeSingle", `{"latitude": 0, "longitude": 0}`)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("When latitude is missing", func() {
			w := do(h, "POST", "/featurizeNAIPSingle", `{"longitude": -122.5}`)

			Convey("Then the request is rejected before featurizing", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decodeError(w)
				So(body.Code, ShouldEqual, "bad_request")
				So(body.Message, ShouldEqual, "'latitude' is a required parameter but wasn't sent")
				So(f.calls, ShouldEqual, 0)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(h, "POST", "/featurizeNAIPSingle", `latitude=1`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w).Message, ShouldContainSubstring, "invalid JSON body")
		})

		Convey("When the tile has three bands", func() {
			f.err = &model.UnexpectedBandCountError{Tile: "rgb.tif", Bands: 3, Want: 4}
			w := do(h, "POST", "/featurizeNAIPSingle", `{"latitude": 47.5, "longitude": -122.5}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeError(w).Code, ShouldEqual, "unexpected_bands")
		})

		Convey("When no tile covers the point", func() {
			f.err = &model.NoCoverageError{Point: model.GeoPoint{Lon: 10, Lat: 20}}
			w := do(h, "POST", "/featurizeNAIPSingle", `{"latitude": 20, "longitude": 10}`)

			Convey("Then the error names the coordinate", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				body := decodeError(w)
				So(body.Code, ShouldEqual, "no_coverage")
				So(*body.Latitude, ShouldEqual, 20)
				So(*body.Longitude, ShouldEqual, 10)
				So(body.Index, ShouldBeNil)
			})
		})
	})
}

func TestFeaturizeBatch(t *testing.T) {
	Convey("Given the batch route", t, func() {
		f := &mockFeaturizer{maxBatch: 3}
		h := newHandler(f)

		Convey("When two points are posted", func() {
			w := do(h, "POST", "/featurizeNAIPBatched", `{"latitudes": [47.5, 47.6], "longitudes": [-122.5, -122.4]}`)

			Convey("Then rows follow the input order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Latitudes  []float64   `json:"latitudes"`
					Longitudes []float64   `json:"longitudes"`
					Features   [][]float64 `json:"features"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Latitudes, ShouldResemble, []float64{47.5, 47.6})
				So(resp.Longitudes, ShouldResemble, []float64{-122.5, -122.4})
				So(resp.Features, ShouldResemble, [][]float64{{-122.5, 47.5}, {-122.4, 47.6}})
			})
		})

		Convey("When the batch is empty", func() {
			w := do(h, "POST", "/featurizeBatched", `{"latitudes": [], "longitudes": []}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"features":[]`)
		})

		cases := []struct {
			name string
			body string
			msg  string
		}{
			{"latitudes are missing", `{"longitudes": [1]}`, "'latitudes' is a required parameter but wasn't sent"},
			{"longitudes are missing", `{"latitudes": [1]}`, "'longitudes' is a required parameter but wasn't sent"},
			{"lengths differ", `{"latitudes": [1, 2], "longitudes": [1]}`, "The 'latitudes' and 'longitudes' inputs are not the same length"},
			{"the batch is too large", `{"latitudes": [1, 2, 3, 4], "longitudes": [1, 2, 3, 4]}`, "The maximum number of points you can process at once is 3"},
		}
		for _, tc := range cases {
			Convey(fmt.Sprintf("When %s", tc.name), func() {
				w := do(h, "POST", "/featurizeNAIPBatched", tc.body)

				Convey("Then the request is rejected before featurizing", func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(decodeError(w).Message, ShouldEqual, tc.msg)
					So(f.calls, ShouldEqual, 0)
				})
			})
		}

		Convey("When a point has no coverage", func() {
			pt := model.GeoPoint{Lon: 10, Lat: 20}
			f.err = &model.BatchPointError{Index: 1, Point: pt, Err: &model.NoCoverageError{Point: pt}}
			w := do(h, "POST", "/featurizeNAIPBatched", `{"latitudes": [47.5, 20], "longitudes": [-122.5, 10]}`)

			Convey("Then the error names the index and coordinate", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				body := decodeError(w)
				So(body.Code, ShouldEqual, "no_coverage")
				So(*body.Index, ShouldEqual, 1)
				So(*body.Latitude, ShouldEqual, 20)
				So(*body.Longitude, ShouldEqual, 10)
				So(body.Message, ShouldEqual, "no imagery tile covers point (10, 20)")
			})
		})

		Convey("When a tile cannot be read", func() {
			pt := model.GeoPoint{Lon: 10, Lat: 20}
			f.err = &model.BatchPointError{Index: 0, Point: pt, Err: &model.TileReadError{Tile: "a.tif", Op: "read", Err: fmt.Errorf("EOF")}}
			w := do(h, "POST", "/featurizeNAIPBatched", `{"latitudes": [20], "longitudes": [10]}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			body := decodeError(w)
			So(body.Code, ShouldEqual, "tile_read_error")
			So(body.Message, ShouldEqual, "read tile a.tif: EOF on point (10, 20)")
		})

		Convey("When the service is not started", func() {
			f.err = service.ErrNotStarted
			w := do(h, "POST", "/featurizeNAIPBatched", `{"latitudes": [20], "longitudes": [10]}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})

	Convey("Given a request timeout shorter than the work", t, func() {
		h := newHandler(&mockFeaturizer{delay: time.Second}, api.WithRequestTimeout(20*time.Millisecond))

		w := do(h, "POST", "/featurizeNAIPBatched", `{"latitudes": [20], "longitudes": [10]}`)
		So(w.Code, ShouldEqual, http.StatusGatewayTimeout)
		So(decodeError(w).Code, ShouldEqual, "timeout")
	})
}
