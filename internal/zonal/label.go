package zonal

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/orientation"

	"github.com/sells-group/inundation-cli/internal/aoi"
)

// Label assigns each segment the class of the first training polygon, in
// file order, that intersects it. Unmatched segments get "".
func Label(segments, training []aoi.Feature, classField string) []string {
	labels := make([]string, len(segments))
	for i, s := range segments {
		sb := s.Bounds()
		for _, t := range training {
			if !sb.Intersects(t.Bounds()) {
				continue
			}
			if Intersects(s.Geometry, t.Geometry) {
				labels[i] = t.Attributes[classField]
				break
			}
		}
	}
	return labels
}

// Intersects reports whether two multipolygons share any point: a vertex of
// one lies in the other, or two boundary edges cross.
func Intersects(a, b *geom.MultiPolygon) bool {
	for i := 0; i < a.NumPolygons(); i++ {
		for j := 0; j < b.NumPolygons(); j++ {
			if polygonsIntersect(a.Polygon(i), b.Polygon(j)) {
				return true
			}
		}
	}
	return false
}

func polygonsIntersect(p, q *geom.Polygon) bool {
	if p.Empty() || q.Empty() {
		return false
	}
	if anyVertexIn(p, q) || anyVertexIn(q, p) {
		return true
	}
	for i := 0; i < p.NumLinearRings(); i++ {
		for j := 0; j < q.NumLinearRings(); j++ {
			if ringsCross(p.LinearRing(i), q.LinearRing(j)) {
				return true
			}
		}
	}
	return false
}

// anyVertexIn reports whether a vertex of p's shell lies inside q's shell
// and outside q's holes.
func anyVertexIn(p, q *geom.Polygon) bool {
	shell := p.LinearRing(0)
	for k := 0; k < shell.NumCoords(); k++ {
		if containsPoint(q, shell.Coord(k)) {
			return true
		}
	}
	return false
}

func containsPoint(q *geom.Polygon, c geom.Coord) bool {
	layout := q.Layout()
	if !xy.IsPointInRing(layout, c, q.LinearRing(0).FlatCoords()) {
		return false
	}
	for h := 1; h < q.NumLinearRings(); h++ {
		if xy.IsPointInRing(layout, c, q.LinearRing(h).FlatCoords()) {
			return false
		}
	}
	return true
}

func ringsCross(r, s *geom.LinearRing) bool {
	for i := 0; i+1 < r.NumCoords(); i++ {
		a1, a2 := r.Coord(i), r.Coord(i+1)
		for j := 0; j+1 < s.NumCoords(); j++ {
			if segmentsCross(a1, a2, s.Coord(j), s.Coord(j+1)) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 geom.Coord) bool {
	o1 := xy.OrientationIndex(p1, p2, q1)
	o2 := xy.OrientationIndex(p1, p2, q2)
	o3 := xy.OrientationIndex(q1, q2, p1)
	o4 := xy.OrientationIndex(q1, q2, p2)
	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == orientation.Collinear && onSegment(p1, p2, q1)) ||
		(o2 == orientation.Collinear && onSegment(p1, p2, q2)) ||
		(o3 == orientation.Collinear && onSegment(q1, q2, p1)) ||
		(o4 == orientation.Collinear && onSegment(q1, q2, p2))
}

// onSegment reports whether collinear point c lies within the extent of a-b.
func onSegment(a, b, c geom.Coord) bool {
	return min(a[0], b[0]) <= c[0] && c[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= c[1] && c[1] <= max(a[1], b[1])
}
