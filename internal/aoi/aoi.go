// Package aoi reads polygon features from shapefiles and GeoJSON, and
// selects the area of interest a run is clipped to.
package aoi

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// DefaultCRS applies to GeoJSON and to shapefiles without a .prj.
const DefaultCRS = "EPSG:4326"

// Feature is one polygonal record and its attributes. Attribute keys from
// shapefiles are lower-cased.
type Feature struct {
	Geometry   *geom.MultiPolygon
	Attributes map[string]string
}

// Bounds returns the feature envelope.
func (f Feature) Bounds() raster.Bounds {
	b := f.Geometry.Bounds()
	return raster.Bounds{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// ReadFeatures reads polygon features from a .shp or .geojson/.json file.
func ReadFeatures(path string) ([]Feature, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path)
	case ".geojson", ".json":
		fs, err := ReadGeoJSON(path)
		return fs, DefaultCRS, err
	default:
		return nil, "", eris.Errorf("aoi: unsupported vector format %q", filepath.Ext(path))
	}
}

// Load reads path and returns its first feature as the AOI. A multi-part
// first feature contributes its largest part; extra features are ignored
// with a warning.
func Load(path string) (model.AOI, error) {
	features, crs, err := ReadFeatures(path)
	if err != nil {
		return model.AOI{}, err
	}
	if len(features) == 0 {
		return model.AOI{}, eris.Errorf("aoi: %s contains no polygon", path)
	}

	log := zap.L().With(zap.String("component", "aoi"), zap.String("path", path))
	if len(features) > 1 {
		log.Warn("aoi has several features, using the first", zap.Int("features", len(features)))
	}

	mp := features[0].Geometry
	poly := Largest(mp)
	if mp.NumPolygons() > 1 {
		log.Warn("aoi feature is multi-part, using the largest part", zap.Int("parts", mp.NumPolygons()))
	}
	return model.AOI{Polygon: poly, CRS: crs}, nil
}

// Largest returns the part of mp with the greatest area.
func Largest(mp *geom.MultiPolygon) *geom.Polygon {
	best, bestArea := 0, -1.0
	for i := 0; i < mp.NumPolygons(); i++ {
		if a := mp.Polygon(i).Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return mp.Polygon(best)
}
