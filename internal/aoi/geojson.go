package aoi

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ReadGeoJSON reads a FeatureCollection, a single Feature or a bare
// geometry. Non-polygonal geometries are dropped. Coordinates are WGS84 per
// RFC 7946.
func ReadGeoJSON(path string) ([]Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aoi: read %s", path)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON is ReadGeoJSON over bytes.
func ParseGeoJSON(data []byte) ([]Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "aoi: parse geojson")
	}

	var raw []*geojson.Feature
	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "aoi: parse feature collection")
		}
		raw = fc.Features
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "aoi: parse feature")
		}
		raw = []*geojson.Feature{&f}
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "aoi: parse geometry")
		}
		raw = []*geojson.Feature{{Geometry: g}}
	}

	var out []Feature
	for _, f := range raw {
		mp := asMultiPolygon(f.Geometry)
		if mp == nil {
			continue
		}
		attrs := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			if v != nil {
				attrs[k] = fmt.Sprint(v)
			}
		}
		out = append(out, Feature{Geometry: mp, Attributes: attrs})
	}
	return out, nil
}

func asMultiPolygon(g geom.T) *geom.MultiPolygon {
	switch t := g.(type) {
	case *geom.Polygon:
		if t.Empty() {
			return nil
		}
		mp := geom.NewMultiPolygon(geom.XY)
		if err := mp.Push(flatten2D(t)); err != nil {
			return nil
		}
		return mp
	case *geom.MultiPolygon:
		if t.Empty() {
			return nil
		}
		mp := geom.NewMultiPolygon(geom.XY)
		for i := 0; i < t.NumPolygons(); i++ {
			if err := mp.Push(flatten2D(t.Polygon(i))); err != nil {
				return nil
			}
		}
		return mp
	default:
		return nil
	}
}

// flatten2D drops Z/M ordinates so every polygon downstream is XY.
func flatten2D(p *geom.Polygon) *geom.Polygon {
	if p.Layout() == geom.XY {
		return p
	}
	stride := p.Stride()
	out := geom.NewPolygon(geom.XY)
	for i := 0; i < p.NumLinearRings(); i++ {
		src := p.LinearRing(i).FlatCoords()
		flat := make([]float64, 0, 2*len(src)/stride)
		for j := 0; j+1 < len(src); j += stride {
			flat = append(flat, src[j], src[j+1])
		}
		_ = out.Push(geom.NewLinearRingFlat(geom.XY, flat))
	}
	return out
}
