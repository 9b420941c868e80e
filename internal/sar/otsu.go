package sar

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/inundation-cli/internal/model"
)

// DefaultBins is the Otsu histogram resolution.
const DefaultBins = 256

// OtsuThreshold returns the bin centre that maximizes between-class variance
// over a histogram of values spanning [min, max]. Non-finite values are
// ignored. If every value is identical that value is returned. An input with
// no finite value fails with model.ErrInsufficientSamples.
func OtsuThreshold(values []float64, bins int) (float64, error) {
	if bins <= 0 {
		bins = DefaultBins
	}
	if bins < 2 {
		return 0, eris.Errorf("sar: otsu needs at least 2 bins, got %d", bins)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		n++
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if n == 0 {
		return 0, eris.Wrap(model.ErrInsufficientSamples, "sar: otsu on empty sample")
	}
	if lo == hi {
		return lo, nil
	}

	width := (hi - lo) / float64(bins)
	hist := make([]float64, bins)
	centers := make([]float64, bins)
	for b := range centers {
		centers[b] = lo + (float64(b)+0.5)*width
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		// The last bin is closed on the right so max lands inside it.
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}

	weighted := make([]float64, bins)
	floats.MulTo(weighted, hist, centers)

	// Class weights and means for a split after bin i (below) and from bin
	// i (above). The first and last bins hold min and max, so no weight is 0.
	w1 := floats.CumSum(make([]float64, bins), hist)
	m1 := floats.CumSum(make([]float64, bins), weighted)
	floats.Div(m1, w1)

	w2 := reverseCumSum(hist)
	m2 := reverseCumSum(weighted)
	floats.Div(m2, w2)

	between := make([]float64, bins-1)
	for i := range between {
		d := m1[i] - m2[i+1]
		between[i] = w1[i] * w2[i+1] * d * d
	}

	return centers[floats.MaxIdx(between)], nil
}

func reverseCumSum(s []float64) []float64 {
	out := make([]float64, len(s))
	acc := 0.0
	for i := len(s) - 1; i >= 0; i-- {
		acc += s[i]
		out[i] = acc
	}
	return out
}
