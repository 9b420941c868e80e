package scene

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/inundation-cli/internal/catalog"
	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, q catalog.Query) ([]catalog.Item, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.Item), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, g catalog.DayGroup, t raster.Target) (map[model.Channel]*raster.Grid, error) {
	args := m.Called(ctx, g, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.Channel]*raster.Grid), args.Error(1)
}

type identityProjector struct{}

func (identityProjector) ReprojectPolygon(p *geom.Polygon, _, _ string) (*geom.Polygon, error) {
	return p, nil
}

func item(id, ts string) catalog.Item {
	t, _ := time.Parse(time.RFC3339, ts)
	return catalog.Item{
		ID:         id,
		BBox:       []float64{9, 0, 9.1, 0.1},
		Properties: catalog.Properties{Datetime: &t},
	}
}

func squareAOI() model.AOI {
	return model.AOI{
		Polygon: geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
			{0, 0}, {40, 0}, {40, 40}, {0, 40}, {0, 0},
		}}),
		CRS: "EPSG:32632",
	}
}

func testOptions() Options {
	return Options{Collection: "sentinel-1-grd", CRS: "EPSG:32632", Resolution: 10, PageLimit: 100, Workers: 2}
}

func interval(t *testing.T) model.Interval {
	iv, err := model.ParseInterval("2023-01-01", "2023-12-31")
	require.NoError(t, err)
	return iv
}

func grids(rows, cols int, vv, vh float64) map[model.Channel]*raster.Grid {
	return map[model.Channel]*raster.Grid{
		model.VV: raster.NewFilledGrid(rows, cols, vv),
		model.VH: raster.NewFilledGrid(rows, cols, vh),
	}
}

func onDay(day string) any {
	return mock.MatchedBy(func(g catalog.DayGroup) bool { return g.Day.Format(model.DateLayout) == day })
}

func TestLoad_GroupsAndAlignsScenes(t *testing.T) {
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.MatchedBy(func(q catalog.Query) bool {
		return len(q.Collections) == 1 && q.Collections[0] == "sentinel-1-grd" && q.Limit == 100
	})).Return([]catalog.Item{
		item("S1A_B", "2023-02-10T05:30:00Z"),
		item("S1A_A", "2023-02-10T05:29:30Z"),
		item("S1A_C", "2023-03-06T05:30:00Z"),
	}, nil)

	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, onDay("2023-02-10"), mock.Anything).Return(grids(4, 4, 0.2, 0.02), nil)
	f.On("Fetch", mock.Anything, onDay("2023-03-06"), mock.Anything).Return(grids(4, 4, 0.3, 0.03), nil)

	res, err := NewLoader(cat, f, identityProjector{}, testOptions()).Load(context.Background(), squareAOI(), interval(t))
	require.NoError(t, err)
	cat.AssertExpectations(t)
	f.AssertExpectations(t)

	coll := res.Collection
	require.Len(t, coll.Scenes, 2)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 4, coll.Rows)
	assert.Equal(t, 4, coll.Cols)
	assert.Equal(t, raster.GeoTransform{0, 10, 0, 40, 0, -10}, coll.Georef.Transform)
	assert.Equal(t, "EPSG:32632", coll.Georef.CRS)

	assert.Equal(t, "2023-02-10", coll.Scenes[0].ID())
	assert.Equal(t, []string{"S1A_A", "S1A_B"}, coll.Scenes[0].ItemIDs)
	assert.Equal(t, "2023-03-06", coll.Scenes[1].ID())

	for _, s := range coll.Scenes {
		assert.True(t, s.Georef.Equal(coll.Georef))
		for _, ch := range model.Channels {
			g := s.Grid(ch)
			require.NotNil(t, g)
			assert.Equal(t, coll.Rows, g.Rows)
			assert.Equal(t, coll.Cols, g.Cols)
		}
	}
	assert.NoError(t, coll.Validate())
}

func TestLoad_ClipsToPolygon(t *testing.T) {
	aoi := model.AOI{
		// Lower-left triangle over a 4x4 grid.
		Polygon: geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
			{0, 0}, {40, 0}, {0, 40}, {0, 0},
		}}),
		CRS: "EPSG:32632",
	}
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.Anything).Return([]catalog.Item{item("S1A_A", "2023-02-10T05:30:00Z")}, nil)
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(grids(4, 4, 0.2, 0.02), nil)

	res, err := NewLoader(cat, f, identityProjector{}, testOptions()).Load(context.Background(), aoi, interval(t))
	require.NoError(t, err)

	vv := res.Collection.Scenes[0].Grid(model.VV)
	assert.InDelta(t, 0.2, vv.At(3, 0), 1e-12, "bottom-left is inside")
	assert.True(t, math.IsNaN(vv.At(0, 3)), "top-right is outside")
	assert.True(t, math.IsNaN(res.Collection.Scenes[0].Grid(model.VH).At(0, 3)))
}

func TestLoad_NoItems(t *testing.T) {
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.Anything).Return([]catalog.Item{}, nil)

	_, err := NewLoader(cat, &mockFetcher{}, identityProjector{}, testOptions()).Load(context.Background(), squareAOI(), interval(t))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNoDataFound))
}

func TestLoad_CatalogUnavailable(t *testing.T) {
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(model.ErrCatalogUnavailable, "catalog: search page 1"))

	_, err := NewLoader(cat, &mockFetcher{}, identityProjector{}, testOptions()).Load(context.Background(), squareAOI(), interval(t))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrCatalogUnavailable))
	assert.False(t, eris.Is(err, model.ErrNoDataFound))
}

func TestLoad_SkipsFailedGroups(t *testing.T) {
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.Anything).Return([]catalog.Item{
		item("S1A_A", "2023-02-10T05:30:00Z"),
		item("S1A_B", "2023-03-06T05:30:00Z"),
		item("S1A_C", "2023-04-11T05:30:00Z"),
	}, nil)

	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, onDay("2023-02-10"), mock.Anything).Return(nil, eris.New("read timeout"))
	f.On("Fetch", mock.Anything, onDay("2023-03-06"), mock.Anything).Return(grids(4, 4, 0.2, 0.02), nil)
	f.On("Fetch", mock.Anything, onDay("2023-04-11"), mock.Anything).Return(nil, eris.New("connection reset"))

	res, err := NewLoader(cat, f, identityProjector{}, testOptions()).Load(context.Background(), squareAOI(), interval(t))
	require.NoError(t, err)
	require.Len(t, res.Collection.Scenes, 1)
	assert.Equal(t, "2023-03-06", res.Collection.Scenes[0].ID())

	require.Len(t, res.Failed, 2)
	assert.Equal(t, "2023-02-10", res.Failed[0].Day)
	assert.Equal(t, "2023-04-11", res.Failed[1].Day)
}

func TestLoad_MalformedGridAborts(t *testing.T) {
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.Anything).Return([]catalog.Item{
		item("S1A_A", "2023-02-10T05:30:00Z"),
		item("S1A_B", "2023-03-06T05:30:00Z"),
	}, nil)

	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, onDay("2023-02-10"), mock.Anything).Return(grids(4, 4, 0.2, 0.02), nil).Maybe()
	f.On("Fetch", mock.Anything, onDay("2023-03-06"), mock.Anything).Return(grids(2, 2, 0.2, 0.02), nil)

	res, err := NewLoader(cat, f, identityProjector{}, testOptions()).Load(context.Background(), squareAOI(), interval(t))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, eris.Is(err, model.ErrMalformedGrid))
	assert.False(t, eris.Is(err, model.ErrNoDataFound))
}

func TestLoad_AllGroupsFail(t *testing.T) {
	cat := &mockSearcher{}
	cat.On("Search", mock.Anything, mock.Anything).Return([]catalog.Item{item("S1A_A", "2023-02-10T05:30:00Z")}, nil)
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, eris.New("403 forbidden"))

	_, err := NewLoader(cat, f, identityProjector{}, testOptions()).Load(context.Background(), squareAOI(), interval(t))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNoDataFound))
}

func TestLoad_EmptyAOI(t *testing.T) {
	_, err := NewLoader(&mockSearcher{}, &mockFetcher{}, identityProjector{}, testOptions()).
		Load(context.Background(), model.AOI{CRS: "EPSG:4326"}, interval(t))
	assert.Error(t, err)
}

func TestTarget_SnapsToResolution(t *testing.T) {
	aoi := model.AOI{
		Polygon: geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
			{3, 4}, {37, 4}, {37, 29}, {3, 29}, {3, 4},
		}}),
		CRS: "EPSG:32632",
	}
	tg, mask, err := NewLoader(nil, nil, identityProjector{}, testOptions()).Target(aoi)
	require.NoError(t, err)
	assert.Equal(t, raster.Bounds{MinX: 0, MinY: 0, MaxX: 40, MaxY: 30}, tg.Bounds())
	assert.Equal(t, 3, tg.Rows)
	assert.Equal(t, 4, tg.Cols)
	assert.Len(t, mask, 12)
}
