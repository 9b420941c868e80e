package sar

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// Label is the per-pixel classification outcome. The zero value is invalid,
// so an unset cell never reads as dry.
type Label uint8

const (
	LabelInvalid Label = iota
	LabelDry
	LabelWater
)

// Export codes for integer rasters.
const (
	CodeDry     uint8 = 0
	CodeWater   uint8 = 1
	CodeInvalid uint8 = 255
)

// Code returns the integer encoding used at the export boundary.
func (l Label) Code() uint8 {
	switch l {
	case LabelWater:
		return CodeWater
	case LabelDry:
		return CodeDry
	default:
		return CodeInvalid
	}
}

func (l Label) String() string {
	switch l {
	case LabelWater:
		return "water"
	case LabelDry:
		return "dry"
	default:
		return "invalid"
	}
}

// Classification is one scene's label layer.
type Classification struct {
	Rows   int
	Cols   int
	Labels []Label
}

// NewInvalidClassification returns a layer with every pixel invalid.
func NewInvalidClassification(rows, cols int) *Classification {
	return &Classification{Rows: rows, Cols: cols, Labels: make([]Label, rows*cols)}
}

// At returns the label at (row, col).
func (c *Classification) At(row, col int) Label {
	return c.Labels[row*c.Cols+col]
}

// Counts returns the number of valid and water pixels.
func (c *Classification) Counts() (valid, water int) {
	for _, l := range c.Labels {
		switch l {
		case LabelWater:
			water++
			valid++
		case LabelDry:
			valid++
		}
	}
	return valid, water
}

// Codes returns the export encoding of every pixel.
func (c *Classification) Codes() []uint8 {
	out := make([]uint8, len(c.Labels))
	for i, l := range c.Labels {
		out[i] = l.Code()
	}
	return out
}

// Thresholds holds one dB threshold per polarization.
type Thresholds struct {
	VV float64 `yaml:"vv"`
	VH float64 `yaml:"vh"`
}

// For returns the threshold for ch.
func (t Thresholds) For(ch model.Channel) float64 {
	if ch == model.VH {
		return t.VH
	}
	return t.VV
}

// With returns a copy of t with ch set to v.
func (t Thresholds) With(ch model.Channel, v float64) Thresholds {
	if ch == model.VH {
		t.VH = v
	} else {
		t.VV = v
	}
	return t
}

// Usable reports whether a filtered dB sample can be classified: finite and
// not the floor substituted for a non-positive intensity. Samples below
// FloorDB came from a positive intensity and stay usable. A filtered
// intensity of exactly LinearFloor is indistinguishable from the floor.
func Usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v != FloorDB
}

// UsableSamples returns the usable cells of g in row-major order.
func UsableSamples(g *raster.Grid) []float64 {
	out := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if Usable(v) {
			out = append(out, v)
		}
	}
	return out
}

// ChannelThreshold runs Otsu over the usable samples of grids.
func ChannelThreshold(bins int, grids ...*raster.Grid) (float64, error) {
	var samples []float64
	for _, g := range grids {
		samples = append(samples, UsableSamples(g)...)
	}
	return OtsuThreshold(samples, bins)
}

// Classify labels each pixel water when VV < th.VV or VH < th.VH. Pixels not
// usable in either channel are invalid.
func Classify(vv, vh *raster.Grid, th Thresholds) (*Classification, error) {
	if !vv.SameShape(vh) {
		return nil, eris.Wrapf(model.ErrMalformedGrid, "sar: vv %dx%d and vh %dx%d differ",
			vv.Rows, vv.Cols, vh.Rows, vh.Cols)
	}
	out := NewInvalidClassification(vv.Rows, vv.Cols)
	for i := range out.Labels {
		a, b := vv.Data[i], vh.Data[i]
		switch {
		case !Usable(a) || !Usable(b):
			out.Labels[i] = LabelInvalid
		case a < th.VV || b < th.VH:
			out.Labels[i] = LabelWater
		default:
			out.Labels[i] = LabelDry
		}
	}
	return out, nil
}
