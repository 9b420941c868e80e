package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/inundation-cli/internal/raster"
)

func testRef() raster.Georef {
	return raster.Georef{Transform: raster.GeoTransform{0, 10, 0, 40, 0, -10}, CRS: "EPSG:32632"}
}

func testScene(day int) Scene {
	return Scene{
		Time: time.Date(2023, 1, day, 0, 0, 0, 0, time.UTC),
		Grids: map[Channel]*raster.Grid{
			VV: raster.NewFilledGrid(4, 4, 0.1),
			VH: raster.NewFilledGrid(4, 4, 0.02),
		},
		Georef: testRef(),
	}
}

func TestCollectionValidate(t *testing.T) {
	c := Collection{Scenes: []Scene{testScene(1), testScene(13)}, Georef: testRef(), Rows: 4, Cols: 4}
	assert.NoError(t, c.Validate())
}

func TestCollectionValidate_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Collection)
	}{
		{"shape", func(c *Collection) { c.Scenes[1].Grids[VH] = raster.NewGrid(4, 5) }},
		{"missing channel", func(c *Collection) { delete(c.Scenes[0].Grids, VV) }},
		{"transform", func(c *Collection) { c.Scenes[1].Georef.Transform[0] = 5 }},
		{"crs", func(c *Collection) { c.Scenes[0].Georef.CRS = "EPSG:4326" }},
		{"order", func(c *Collection) { c.Scenes[0], c.Scenes[1] = c.Scenes[1], c.Scenes[0] }},
		{"empty shape", func(c *Collection) { c.Rows = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Collection{Scenes: []Scene{testScene(1), testScene(13)}, Georef: testRef(), Rows: 4, Cols: 4}
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrMalformedGrid))
		})
	}
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("2023-01-01", "2023-12-31")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01T00:00:00Z/2023-12-31T23:59:59Z", iv.STAC())
	assert.True(t, iv.Contains(time.Date(2023, 12, 31, 18, 0, 0, 0, time.UTC)))
	assert.False(t, iv.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseInterval_SingleDay(t *testing.T) {
	iv, err := ParseInterval("2023-06-01", "2023-06-01")
	require.NoError(t, err)
	assert.True(t, iv.Contains(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestParseInterval_Errors(t *testing.T) {
	_, err := ParseInterval("2023-13-01", "2023-12-31")
	assert.Error(t, err)
	_, err = ParseInterval("2023-01-01", "yesterday")
	assert.Error(t, err)
	_, err = ParseInterval("2023-06-02", "2023-06-01")
	assert.Error(t, err)
}

func TestAOIBounds(t *testing.T) {
	poly := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{{10, 45}, {11, 45}, {11, 46.5}, {10, 45}}})
	b := AOI{Polygon: poly, CRS: "EPSG:4326"}.Bounds()
	assert.Equal(t, raster.Bounds{MinX: 10, MinY: 45, MaxX: 11, MaxY: 46.5}, b)
}

func TestSceneID(t *testing.T) {
	s := testScene(5)
	assert.Equal(t, "2023-01-05", s.ID())
	assert.NotNil(t, s.Grid(VV))
	assert.Nil(t, s.Grid(Channel("hh")))
}

func TestErrorSentinelsDistinct(t *testing.T) {
	wrapped := eris.Wrap(ErrCatalogUnavailable, "catalog: search")
	assert.True(t, eris.Is(wrapped, ErrCatalogUnavailable))
	assert.False(t, eris.Is(wrapped, ErrNoDataFound))
}
