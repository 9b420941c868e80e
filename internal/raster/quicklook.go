package raster

import (
	"image/color"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// gridXYZ adapts a Grid to plotter.GridXYZ. Plot rows run bottom-up, so
// row r of the plot is grid row Rows-1-r.
type gridXYZ struct {
	g  *Grid
	gt GeoTransform
}

func (q gridXYZ) Dims() (c, r int) { return q.g.Cols, q.g.Rows }

func (q gridXYZ) Z(c, r int) float64 { return q.g.At(q.g.Rows-1-r, c) }

func (q gridXYZ) X(c int) float64 {
	x, _ := q.gt.PixelCenter(0, c)
	return x
}

func (q gridXYZ) Y(r int) float64 {
	_, y := q.gt.PixelCenter(q.g.Rows-1-r, 0)
	return y
}

// Quicklook renders g as a PNG heat map at path. No-data cells are drawn
// transparent.
func Quicklook(path, title string, g *Grid, ref Georef) error {
	lo, hi, ok := g.Range()
	if !ok {
		return eris.New("raster: quicklook of a grid with no valid cells")
	}
	if hi == lo {
		hi = lo + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	hm := plotter.NewHeatMap(gridXYZ{g: g, gt: ref.Transform}, palette.Heat(16, 1))
	hm.Min = lo
	hm.Max = hi
	hm.NaN = color.Transparent
	p.Add(hm)

	width := 8 * vg.Inch
	height := vg.Length(float64(width) * float64(g.Rows) / float64(g.Cols))
	height = max(min(height, 16*vg.Inch), 2*vg.Inch)

	if err := p.Save(width, height, path); err != nil {
		return eris.Wrapf(err, "raster: save quicklook %s", path)
	}
	return nil
}
