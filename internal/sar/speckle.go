package sar

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/inundation-cli/internal/raster"
)

// DefaultWindow is the Lee filter window edge length.
const DefaultWindow = 7

// LeeFilter suppresses speckle in a dB grid. The filter runs in linear
// intensity with invalid cells treated as zero, and returns dB with the
// input's invalid cells restored to NaN. size must be a positive odd integer.
func LeeFilter(db *raster.Grid, size int) (*raster.Grid, error) {
	out, _, err := leeFilter(db, size)
	return out, err
}

// leeFilter also returns the adaptive weight grid, which lies in [0,1].
func leeFilter(db *raster.Grid, size int) (out, weights *raster.Grid, err error) {
	if size < 1 || size%2 == 0 {
		return nil, nil, eris.Errorf("sar: lee window must be a positive odd integer, got %d", size)
	}
	if len(db.Data) != db.Rows*db.Cols {
		return nil, nil, eris.Errorf("sar: grid data length %d does not match %dx%d", len(db.Data), db.Rows, db.Cols)
	}

	n := len(db.Data)
	valid := make([]bool, n)
	linear := make([]float64, n)
	squared := make([]float64, n)
	for i, v := range db.Data {
		if db.Valid(i) {
			valid[i] = true
			linear[i] = math.Pow(10, v/10)
			squared[i] = linear[i] * linear[i]
		}
	}

	mean := uniformFilter(linear, db.Rows, db.Cols, size)
	sqMean := uniformFilter(squared, db.Rows, db.Cols, size)

	variance := make([]float64, n)
	for i := range variance {
		// Round-off can push E[x^2]-E[x]^2 slightly below zero on flat areas.
		variance[i] = math.Max(sqMean[i]-mean[i]*mean[i], 0)
	}
	overall := 0.0
	if n > 0 {
		overall = stat.Mean(variance, nil)
	}

	out = raster.NewGrid(db.Rows, db.Cols)
	weights = raster.NewGrid(db.Rows, db.Cols)
	for i := range out.Data {
		w := 0.0
		if denom := variance[i] + overall; denom > 0 {
			w = variance[i] / denom
		}
		weights.Data[i] = w

		if !valid[i] {
			out.Data[i] = math.NaN()
			continue
		}
		filtered := mean[i] + w*(linear[i]-mean[i])
		if filtered <= 0 {
			out.Data[i] = FloorDB
			continue
		}
		out.Data[i] = 10 * math.Log10(filtered)
	}
	return out, weights, nil
}

// uniformFilter is a square moving average with half-sample symmetric
// boundary extension (d c b a | a b c d | d c b a), applied separably.
func uniformFilter(src []float64, rows, cols, size int) []float64 {
	half := size / 2
	inv := 1 / float64(size)

	tmp := make([]float64, len(src))
	for r := 0; r < rows; r++ {
		row := src[r*cols : (r+1)*cols]
		for c := 0; c < cols; c++ {
			sum := 0.0
			for k := c - half; k <= c+half; k++ {
				sum += row[reflect(k, cols)]
			}
			tmp[r*cols+c] = sum * inv
		}
	}

	dst := make([]float64, len(src))
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			sum := 0.0
			for k := r - half; k <= r+half; k++ {
				sum += tmp[reflect(k, rows)*cols+c]
			}
			dst[r*cols+c] = sum * inv
		}
	}
	return dst
}

// reflect folds an out-of-range index back into [0, n) by mirroring about
// the array edges, repeating the edge sample.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
