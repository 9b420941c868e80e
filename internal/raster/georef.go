package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// GeoTransform is a GDAL-order affine transform:
// x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5].
type GeoTransform [6]float64

// Apply maps fractional pixel coordinates to georeferenced coordinates.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// PixelCenter returns the georeferenced centre of cell (row, col).
func (gt GeoTransform) PixelCenter(row, col int) (x, y float64) {
	return gt.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Georef places a grid in a coordinate reference system.
type Georef struct {
	Transform GeoTransform
	CRS       string
}

// Equal compares transforms exactly and CRS identifiers textually. Grids in
// one run come off the same target definition, so exact comparison holds.
func (g Georef) Equal(o Georef) bool {
	return g.Transform == o.Transform && g.CRS == o.CRS
}

// Bounds is an axis-aligned envelope.
type Bounds struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// Center returns the envelope midpoint.
func (b Bounds) Center() (x, y float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Intersects reports whether two envelopes overlap (touching counts).
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// Target is the common output grid every scene is resampled onto.
type Target struct {
	Georef
	Rows       int
	Cols       int
	Resolution float64
}

// TargetForBounds builds a north-up grid covering b at res, with edges
// snapped outward to multiples of res so repeated runs over the same AOI
// land on identical pixel boundaries.
func TargetForBounds(b Bounds, res float64, crs string) (Target, error) {
	if res <= 0 || math.IsNaN(res) {
		return Target{}, eris.Errorf("raster: resolution must be positive, got %g", res)
	}
	if b.MaxX < b.MinX || b.MaxY < b.MinY {
		return Target{}, eris.Errorf("raster: inverted bounds %+v", b)
	}

	minX := math.Floor(b.MinX/res) * res
	minY := math.Floor(b.MinY/res) * res
	maxX := math.Ceil(b.MaxX/res) * res
	maxY := math.Ceil(b.MaxY/res) * res

	cols := int(math.Round((maxX - minX) / res))
	rows := int(math.Round((maxY - minY) / res))
	if cols == 0 {
		cols = 1
	}
	if rows == 0 {
		rows = 1
	}

	return Target{
		Georef: Georef{
			Transform: GeoTransform{minX, res, 0, maxY, 0, -res},
			CRS:       crs,
		},
		Rows:       rows,
		Cols:       cols,
		Resolution: res,
	}, nil
}

// Bounds returns the target's envelope.
func (t Target) Bounds() Bounds {
	gt := t.Transform
	return Bounds{
		MinX: gt[0],
		MinY: gt[3] + float64(t.Rows)*gt[5],
		MaxX: gt[0] + float64(t.Cols)*gt[1],
		MaxY: gt[3],
	}
}
