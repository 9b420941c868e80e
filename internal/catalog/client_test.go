package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"golang.org/x/time/rate"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/resilience"
)

func testQuery(t *testing.T) Query {
	t.Helper()
	iv, err := model.ParseInterval("2023-01-01", "2023-12-31")
	require.NoError(t, err)
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{35.9, 0.5}, {36.2, 0.5}, {36.2, 0.8}, {35.9, 0.8}, {35.9, 0.5}}})
	return Query{Collections: []string{"sentinel-1-grd"}, Intersects: poly, Interval: iv, Limit: 2}
}

func testClient(url string, opts ...Option) *Client {
	base := []Option{
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithRetry(resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}),
	}
	return NewClient(url, append(base, opts...)...)
}

func feature(id, dt string) map[string]any {
	return map[string]any{
		"type":       "Feature",
		"id":         id,
		"bbox":       []float64{35.5, 0.2, 36.5, 1.2},
		"properties": map[string]any{"datetime": dt},
		"assets": map[string]any{
			"vv": map[string]any{"href": "s3://bucket/" + id + "/vv.tif"},
			"vh": map[string]any{"href": "s3://bucket/" + id + "/vh.tif"},
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/geo+json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestSearch_PostPaginationWithMerge(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()

		if body["token"] == nil {
			writeJSON(t, w, map[string]any{
				"type":     "FeatureCollection",
				"features": []any{feature("S1A_1", "2023-01-05T03:10:00Z"), feature("S1A_2", "2023-01-05T03:10:25Z")},
				"links": []any{map[string]any{
					"rel": "next", "href": srv.URL + "/search", "method": "POST",
					"body": map[string]any{"token": "page2"}, "merge": true,
				}},
			})
			return
		}
		writeJSON(t, w, map[string]any{
			"type":     "FeatureCollection",
			"features": []any{feature("S1A_3", "2023-01-17T03:10:00Z")},
			"links":    []any{},
		})
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "S1A_3", items[2].ID)

	require.Len(t, bodies, 2)
	assert.Equal(t, "2023-01-01T00:00:00Z/2023-12-31T23:59:59Z", bodies[0]["datetime"])
	assert.Equal(t, []any{"sentinel-1-grd"}, bodies[0]["collections"])
	assert.EqualValues(t, 2, bodies[0]["limit"])
	intersects, ok := bodies[0]["intersects"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Polygon", intersects["type"])
	// Merged second body keeps the original query.
	assert.Equal(t, "page2", bodies[1]["token"])
	assert.Equal(t, bodies[0]["datetime"], bodies[1]["datetime"])
}

func TestSearch_GetNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(t, w, map[string]any{
				"features": []any{feature("a", "2023-02-01T03:00:00Z")},
				"links":    []any{map[string]any{"rel": "next", "href": srv.URL + "/search?page=2"}},
			})
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(t, w, map[string]any{"features": []any{feature("b", "2023-02-13T03:00:00Z")}})
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSearch_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]any{"features": []any{feature("a", "2023-02-01T03:00:00Z")}})
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_ExhaustedRetriesIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrCatalogUnavailable))
	assert.False(t, eris.Is(err, model.ErrNoDataFound))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"code":"BadRequest"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrCatalogUnavailable))
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "{not json")
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	assert.True(t, eris.Is(err, model.ErrCatalogUnavailable))
}

func TestSearch_EmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"type": "FeatureCollection", "features": []any{}})
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Search(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSearch_MaxPages(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		writeJSON(t, w, map[string]any{
			"features": []any{feature(fmt.Sprintf("i%d", n), "2023-02-01T03:00:00Z")},
			"links":    []any{map[string]any{"rel": "next", "href": srv.URL + "/search", "method": "POST"}},
		})
	}))
	defer srv.Close()

	items, err := testClient(srv.URL, WithMaxPages(3)).Search(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(srv.URL).Search(ctx, testQuery(t))
	require.Error(t, err)
	assert.False(t, eris.Is(err, model.ErrCatalogUnavailable))
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func (m *memCache) GetCachedSearch(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.entries[key]
	return b, ok, nil
}

func (m *memCache) SetCachedSearch(_ context.Context, key string, payload []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string][]byte)
	}
	m.entries[key] = payload
	m.sets++
	return nil
}

func TestSearch_CacheShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(t, w, map[string]any{"features": []any{feature("a", "2023-02-01T03:00:00Z")}})
	}))
	defer srv.Close()

	cache := &memCache{}
	c := testClient(srv.URL, WithCache(cache, time.Hour))

	first, err := c.Search(context.Background(), testQuery(t))
	require.NoError(t, err)
	second, err := c.Search(context.Background(), testQuery(t))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, cache.sets)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	href, ok := second[0].Href("vv")
	require.True(t, ok)
	assert.Equal(t, "s3://bucket/a/vv.tif", href)
}

func TestCacheKeyStable(t *testing.T) {
	q := testQuery(t)
	b1, err := q.Body()
	require.NoError(t, err)
	b2, err := q.Body()
	require.NoError(t, err)

	k1, err := cacheKey("u", b1)
	require.NoError(t, err)
	k2, err := cacheKey("u", b2)
	require.NoError(t, err)
	k3, err := cacheKey("v", b2)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestSearch_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "inundation-cli", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeJSON(t, w, map[string]any{"features": []any{}})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, WithHeader("User-Agent", "inundation-cli")).Search(context.Background(), testQuery(t))
	require.NoError(t, err)
}
