package aoi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clockwise square, the shapefile convention for outer rings
func cwSquare(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
}

func ccwSquare(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

type record struct {
	parts [][]shp.Point
	attrs []string
}

func writeShapefile(t *testing.T, path string, fieldNames []string, recs []record) {
	t.Helper()
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	fields := make([]shp.Field, len(fieldNames))
	for i, n := range fieldNames {
		fields[i] = shp.StringField(n, 32)
	}
	require.NoError(t, w.SetFields(fields))

	for i, r := range recs {
		w.Write((*shp.Polygon)(shp.NewPolyLine(r.parts)))
		for j, v := range r.attrs {
			require.NoError(t, w.WriteAttribute(i, j, v))
		}
	}
	w.Close()
}

func TestReadShapefile_PolygonsAndAttributes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segments.shp")
	writeShapefile(t, path, []string{"SEGMENT_ID", "CLASS"}, []record{
		{parts: [][]shp.Point{cwSquare(0, 0, 10, 10)}, attrs: []string{"1", "wetland"}},
		{parts: [][]shp.Point{cwSquare(20, 0, 30, 10), ccwSquare(22, 2, 28, 8)}, attrs: []string{"2", "dry"}},
	})

	features, crs, err := ReadShapefile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCRS, crs)
	require.Len(t, features, 2)

	assert.Equal(t, "1", features[0].Attributes["segment_id"])
	assert.Equal(t, "wetland", features[0].Attributes["class"])
	assert.Equal(t, 1, features[0].Geometry.NumPolygons())

	// Counter-clockwise ring becomes a hole of the containing outer ring.
	require.Equal(t, 1, features[1].Geometry.NumPolygons())
	assert.Equal(t, 2, features[1].Geometry.Polygon(0).NumLinearRings())
	assert.InDelta(t, 100-36, features[1].Geometry.Polygon(0).Area(), 1e-9)

	b := features[1].Bounds()
	assert.Equal(t, 20.0, b.MinX)
	assert.Equal(t, 30.0, b.MaxX)
}

func TestReadShapefile_PrjCRS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aoi.shp")
	writeShapefile(t, path, []string{"NAME"}, []record{
		{parts: [][]shp.Point{cwSquare(0, 0, 1, 1)}, attrs: []string{"lake"}},
	})
	wkt := `PROJCS["WGS 84 / UTM zone 37N",GEOGCS["WGS 84"]]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aoi.prj"), []byte(wkt+"\n"), 0644))

	_, crs, err := ReadShapefile(path)
	require.NoError(t, err)
	assert.Equal(t, wkt, crs)
}

func TestReadShapefile_Missing(t *testing.T) {
	_, _, err := ReadShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	assert.Error(t, err)
}

func TestLoad_MultiPartUsesLargest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aoi.shp")
	writeShapefile(t, path, []string{"NAME"}, []record{
		{parts: [][]shp.Point{cwSquare(0, 0, 1, 1), cwSquare(5, 5, 9, 9)}, attrs: []string{"a"}},
		{parts: [][]shp.Point{cwSquare(50, 50, 60, 60)}, attrs: []string{"b"}},
	})

	a, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCRS, a.CRS)
	assert.InDelta(t, 16.0, a.Polygon.Area(), 1e-9)
	assert.Equal(t, 5.0, a.Bounds().MinX)
}

const featureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"class": "water", "id": 7},
     "geometry": {"type": "Polygon", "coordinates": [[[36.0, 0.5], [36.1, 0.5], [36.1, 0.6], [36.0, 0.6], [36.0, 0.5]]]}},
    {"type": "Feature", "properties": {"class": "road"},
     "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[0, 0, 5], [1, 0, 5], [1, 1, 5], [0, 0, 5]]]]}}
  ]
}`

func TestParseGeoJSON_FeatureCollection(t *testing.T) {
	features, err := ParseGeoJSON([]byte(featureCollection))
	require.NoError(t, err)
	require.Len(t, features, 2, "line strings are dropped")

	assert.Equal(t, "water", features[0].Attributes["class"])
	assert.Equal(t, "7", features[0].Attributes["id"])
	assert.Equal(t, 2, features[1].Geometry.Stride(), "Z ordinates are dropped")
}

func TestParseGeoJSON_FeatureAndGeometry(t *testing.T) {
	f := `{"type": "Feature", "properties": null,
	       "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}}`
	features, err := ParseGeoJSON([]byte(f))
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.InDelta(t, 4.0, features[0].Geometry.Polygon(0).Area(), 1e-12)

	g := `{"type": "Polygon", "coordinates": [[[0,0],[3,0],[3,3],[0,3],[0,0]]]}`
	features, err = ParseGeoJSON([]byte(g))
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Empty(t, features[0].Attributes)
}

func TestParseGeoJSON_Invalid(t *testing.T) {
	_, err := ParseGeoJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestLoad_GeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(featureCollection), 0644))

	a, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", a.CRS)
	assert.InDelta(t, 36.05, (a.Bounds().MinX+a.Bounds().MaxX)/2, 1e-9)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "aoi.kml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.geojson")
	require.NoError(t, os.WriteFile(empty, []byte(`{"type":"FeatureCollection","features":[]}`), 0644))
	_, err = Load(empty)
	assert.Error(t, err)
}
