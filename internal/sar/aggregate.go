package sar

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// FrequencyOptions controls the temporal reduction.
type FrequencyOptions struct {
	// Normalize divides each count by the pixel's valid observations.
	Normalize bool
}

// Frequency counts water observations per pixel over the layers in which the
// pixel was valid. Pixels never validly observed are NaN, never 0. The second
// grid holds the per-pixel valid-observation count.
func Frequency(layers []*Classification, opts FrequencyOptions) (freq, valid *raster.Grid, err error) {
	if len(layers) == 0 {
		return nil, nil, eris.Wrap(model.ErrNoDataFound, "sar: frequency over zero layers")
	}
	rows, cols := layers[0].Rows, layers[0].Cols
	for i, l := range layers {
		if l.Rows != rows || l.Cols != cols || len(l.Labels) != rows*cols {
			return nil, nil, eris.Wrapf(model.ErrMalformedGrid, "sar: layer %d is %dx%d, want %dx%d", i, l.Rows, l.Cols, rows, cols)
		}
	}

	freq = raster.NewGrid(rows, cols)
	valid = raster.NewGrid(rows, cols)
	for i := range freq.Data {
		water, seen := 0, 0
		for _, l := range layers {
			switch l.Labels[i] {
			case LabelWater:
				water++
				seen++
			case LabelDry:
				seen++
			}
		}
		valid.Data[i] = float64(seen)
		switch {
		case seen == 0:
			freq.Data[i] = math.NaN()
		case opts.Normalize:
			freq.Data[i] = float64(water) / float64(seen)
		default:
			freq.Data[i] = float64(water)
		}
	}
	return freq, valid, nil
}
