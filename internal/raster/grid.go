// Package raster holds in-memory single-band grids and the georeferencing
// that places them on the ground. NaN marks an invalid cell everywhere.
package raster

import (
	"math"
)

// Grid is a row-major single-band raster.
type Grid struct {
	Rows int
	Cols int
	Data []float64
}

// NewGrid returns a zero-filled grid.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewFilledGrid returns a grid with every cell set to v.
func NewFilledGrid(rows, cols int, v float64) *Grid {
	g := NewGrid(rows, cols)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// FromRows builds a grid from nested rows. All rows must have equal length.
func FromRows(rows [][]float64) *Grid {
	if len(rows) == 0 {
		return NewGrid(0, 0)
	}
	g := NewGrid(len(rows), len(rows[0]))
	for r, row := range rows {
		copy(g.Data[r*g.Cols:(r+1)*g.Cols], row)
	}
	return g
}

// Len is the number of cells.
func (g *Grid) Len() int { return g.Rows * g.Cols }

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Cols+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.Cols+col] = v
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := &Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float64, len(g.Data))}
	copy(c.Data, g.Data)
	return c
}

// SameShape reports whether o has g's dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return o != nil && g.Rows == o.Rows && g.Cols == o.Cols && len(g.Data) == len(o.Data)
}

// Valid reports whether cell i holds a finite value.
func (g *Grid) Valid(i int) bool {
	v := g.Data[i]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidCount counts finite cells.
func (g *Grid) ValidCount() int {
	n := 0
	for i := range g.Data {
		if g.Valid(i) {
			n++
		}
	}
	return n
}

// ValidValues returns the finite cells in row-major order.
func (g *Grid) ValidValues() []float64 {
	out := make([]float64, 0, len(g.Data))
	for i, v := range g.Data {
		if g.Valid(i) {
			out = append(out, v)
		}
	}
	return out
}

// Range returns the min and max finite values; ok is false when the grid has
// no finite cell.
func (g *Grid) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i, v := range g.Data {
		if !g.Valid(i) {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}

// Rows2D returns a nested copy, mostly for tests and debugging.
func (g *Grid) Rows2D() [][]float64 {
	out := make([][]float64, g.Rows)
	for r := range out {
		out[r] = make([]float64, g.Cols)
		copy(out[r], g.Data[r*g.Cols:(r+1)*g.Cols])
	}
	return out
}
