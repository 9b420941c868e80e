package aoi

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// ReadShapefile reads every polygon record of a shapefile with its
// attributes, plus the CRS from the sibling .prj (DefaultCRS when absent).
func ReadShapefile(shpPath string) ([]Feature, string, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, "", eris.Wrapf(err, "aoi: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	var features []Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		p, ok := shape.(*shp.Polygon)
		if !ok || p == nil {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(p)
		if mp == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[name] = val
		}
		features = append(features, Feature{Geometry: mp, Attributes: attrs})
	}

	if skipped > 0 {
		zap.L().Debug("aoi: skipped non-polygon shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	crs, err := readPrj(shpPath)
	if err != nil {
		return nil, "", err
	}
	return features, crs, nil
}

func readPrj(shpPath string) (string, error) {
	prj := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	b, err := os.ReadFile(prj)
	if os.IsNotExist(err) {
		return DefaultCRS, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "aoi: read %s", prj)
	}
	wkt := strings.TrimSpace(string(b))
	if wkt == "" {
		return DefaultCRS, nil
	}
	return wkt, nil
}

// polygonToMultiPolygon assembles shapefile rings into polygons. Outer rings
// run clockwise and start a new polygon; counter-clockwise rings are holes
// assigned to the first outer ring containing them.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var outers [][]float64
	var holes [][]float64
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("aoi: skipping degenerate ring", zap.Int32("part", i))
			continue
		}
		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if xy.IsRingCounterClockwise(geom.XY, flat) {
			holes = append(holes, flat)
		} else {
			outers = append(outers, flat)
		}
	}
	// A lone counter-clockwise ring is a writer that ignored orientation.
	if len(outers) == 0 && len(holes) > 0 {
		outers, holes = holes[:1], holes[1:]
	}
	if len(outers) == 0 {
		return nil
	}

	polys := make([]*geom.Polygon, len(outers))
	for i, o := range outers {
		polys[i] = geom.NewPolygon(geom.XY)
		if err := polys[i].Push(geom.NewLinearRingFlat(geom.XY, o)); err != nil {
			return nil
		}
	}
	for _, h := range holes {
		probe := geom.Coord{h[0], h[1]}
		for i, o := range outers {
			if xy.IsPointInRing(geom.XY, probe, o) {
				if err := polys[i].Push(geom.NewLinearRingFlat(geom.XY, h)); err != nil {
					zap.L().Debug("aoi: skipping malformed hole", zap.Error(err))
				}
				break
			}
		}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, poly := range polys {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("aoi: skipping malformed polygon part", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
