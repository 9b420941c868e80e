// Package entropy computes per-pixel temporal Shannon entropy of index
// stacks, where each band is one time step.
package entropy

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// epsilon is added to every density bin so empty bins stay in the log.
const epsilon = 1e-10

// rowsPerBand is the number of raster rows one pool task reduces.
const rowsPerBand = 64

// Options fixes the histogram.
type Options struct {
	Bins    int
	Min     float64
	Max     float64
	Workers int
}

// DefaultOptions returns 20 bins over [-1, 1], the range of normalized
// difference indices.
func DefaultOptions() Options {
	return Options{Bins: 20, Min: -1, Max: 1, Workers: 4}
}

// Validate checks the histogram definition.
func (o Options) Validate() error {
	if o.Bins < 1 {
		return eris.Errorf("entropy: bins must be positive, got %d", o.Bins)
	}
	if !(o.Max > o.Min) {
		return eris.Errorf("entropy: max %g must exceed min %g", o.Max, o.Min)
	}
	return nil
}

// Edges returns the Bins+1 evenly spaced bin edges.
func (o Options) Edges() []float64 {
	return floats.Span(make([]float64, o.Bins+1), o.Min, o.Max)
}

// Pixel returns the base-2 entropy of one time series. NaN samples are
// dropped and samples outside the edges are ignored; the last bin is closed
// on the right. A series with no countable sample yields NaN.
func Pixel(series, edges []float64) float64 {
	bins := len(edges) - 1
	counts := make([]float64, bins)
	lo, hi := edges[0], edges[bins]
	width := (hi - lo) / float64(bins)
	n := 0
	for _, v := range series {
		if math.IsNaN(v) || v < lo || v > hi {
			continue
		}
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
		n++
	}
	if n == 0 {
		return math.NaN()
	}

	// Density normalization, then the epsilon floor, then a distribution.
	p := make([]float64, bins)
	for i, c := range counts {
		p[i] = c/(float64(n)*width) + epsilon
	}
	floats.Scale(1/floats.Sum(p), p)
	return stat.Entropy(p) / math.Ln2
}

// Compute reduces bands to a single entropy grid. Rows are processed in
// bands on a bounded pool.
func Compute(ctx context.Context, bands []*raster.Grid, opts Options) (*raster.Grid, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, eris.Wrap(model.ErrNoDataFound, "entropy: stack has no bands")
	}
	rows, cols := bands[0].Rows, bands[0].Cols
	for i, b := range bands {
		if !b.SameShape(bands[0]) {
			return nil, eris.Wrapf(model.ErrMalformedGrid, "entropy: band %d is %dx%d, want %dx%d", i+1, b.Rows, b.Cols, rows, cols)
		}
	}

	edges := opts.Edges()
	out := raster.NewGrid(rows, cols)
	workers := max(opts.Workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < rows; start += rowsPerBand {
		end := min(start+rowsPerBand, rows)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			series := make([]float64, len(bands))
			for i := start * cols; i < end*cols; i++ {
				for t, b := range bands {
					series[t] = b.Data[i]
				}
				out.Data[i] = Pixel(series, edges)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
