// Package sar implements the radar backscatter chain: decibel conversion,
// Lee speckle filtering, Otsu water classification and temporal frequency
// aggregation. Every function here is pure and safe for concurrent use on
// distinct inputs.
package sar

import (
	"math"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// LinearFloor replaces non-positive filtered intensities before the
// logarithm. FloorDB is its decibel value, written exactly so floored cells
// can be told apart from low but positive ones.
const (
	LinearFloor = 1e-10
	FloorDB     = -100.0
)

// ToDecibel maps linear backscatter to 10*log10(v). Values <= 0 and
// non-finite values become NaN.
func ToDecibel(g *raster.Grid) *raster.Grid {
	out := raster.NewGrid(g.Rows, g.Cols)
	for i, v := range g.Data {
		if v > 0 && !math.IsInf(v, 1) {
			out.Data[i] = 10 * math.Log10(v)
		} else {
			out.Data[i] = math.NaN()
		}
	}
	return out
}

// FromDecibel maps dB back to linear intensity, keeping NaN as NaN.
func FromDecibel(g *raster.Grid) *raster.Grid {
	out := raster.NewGrid(g.Rows, g.Cols)
	for i, v := range g.Data {
		out.Data[i] = math.Pow(10, v/10)
	}
	return out
}

// NormalizeScene returns a copy of s with every channel converted to dB.
func NormalizeScene(s model.Scene) model.Scene {
	out := s
	out.Grids = make(map[model.Channel]*raster.Grid, len(s.Grids))
	for ch, g := range s.Grids {
		out.Grids[ch] = ToDecibel(g)
	}
	return out
}
