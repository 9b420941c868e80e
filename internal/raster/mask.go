package raster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// PolygonMask marks the cells of t whose centres fall inside poly (holes
// excluded). The polygon must be in t's CRS. Rows are filled by scanline
// with the even-odd rule, so a cell centre on a left edge is inside and one
// on a right edge is outside.
func PolygonMask(poly *geom.Polygon, t Target) ([]bool, error) {
	gt := t.Transform
	if gt[2] != 0 || gt[4] != 0 {
		return nil, eris.New("raster: polygon mask requires a north-up transform")
	}
	if gt[1] <= 0 || gt[5] >= 0 {
		return nil, eris.Errorf("raster: unexpected pixel size %g x %g", gt[1], gt[5])
	}

	mask := make([]bool, t.Rows*t.Cols)
	if poly == nil || poly.Empty() {
		return mask, nil
	}

	stride := poly.Stride()
	var rings [][]float64
	for i := 0; i < poly.NumLinearRings(); i++ {
		rings = append(rings, poly.LinearRing(i).FlatCoords())
	}

	xs := make([]float64, 0, 16)
	for r := 0; r < t.Rows; r++ {
		y := gt[3] + (float64(r)+0.5)*gt[5]
		xs = xs[:0]
		for _, ring := range rings {
			xs = appendCrossings(xs, ring, stride, y)
		}
		if len(xs) < 2 {
			continue
		}
		sort.Float64s(xs)
		for k := 0; k+1 < len(xs); k += 2 {
			c0 := firstCenterAtOrAfter(xs[k], gt)
			c1 := firstCenterAtOrAfter(xs[k+1], gt)
			c0 = max(c0, 0)
			c1 = min(c1, t.Cols)
			for c := c0; c < c1; c++ {
				mask[r*t.Cols+c] = true
			}
		}
	}
	return mask, nil
}

// appendCrossings adds the x positions where the closed ring crosses the
// horizontal line at y, using the half-open rule on edge endpoints.
func appendCrossings(xs, ring []float64, stride int, y float64) []float64 {
	n := len(ring) / stride
	if n < 2 {
		return xs
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1, y1 := ring[i*stride], ring[i*stride+1]
		x2, y2 := ring[j*stride], ring[j*stride+1]
		if (y1 <= y && y < y2) || (y2 <= y && y < y1) {
			xs = append(xs, x1+(y-y1)*(x2-x1)/(y2-y1))
		}
	}
	return xs
}

func firstCenterAtOrAfter(x float64, gt GeoTransform) int {
	return int(math.Ceil((x-gt[0])/gt[1] - 0.5))
}

// ApplyMask sets every cell outside mask to NaN.
func ApplyMask(g *Grid, mask []bool) error {
	if len(mask) != len(g.Data) {
		return eris.Errorf("raster: mask has %d cells, grid has %d", len(mask), len(g.Data))
	}
	for i, in := range mask {
		if !in {
			g.Data[i] = math.NaN()
		}
	}
	return nil
}

// MaskedCount counts true cells.
func MaskedCount(mask []bool) int {
	n := 0
	for _, in := range mask {
		if in {
			n++
		}
	}
	return n
}
