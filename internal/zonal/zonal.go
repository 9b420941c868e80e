// Package zonal extracts per-segment band means from a feature stack and
// labels segments from training polygons.
package zonal

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inundation-cli/internal/aoi"
	"github.com/sells-group/inundation-cli/internal/raster"
	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
)

// Options configures extraction.
type Options struct {
	SegmentIDField string
	ClassField     string
	// NoData cells are skipped in addition to NaN.
	NoData    float64
	BatchSize int
	Workers   int
}

// DefaultOptions returns segment_id/class fields, -9999 nodata and batches
// of 500 segments.
func DefaultOptions() Options {
	return Options{
		SegmentIDField: "segment_id",
		ClassField:     "class",
		NoData:         -9999,
		BatchSize:      500,
		Workers:        4,
	}
}

// Means returns, per segment, the mean of every band over the pixels whose
// centres fall inside the segment. A band with no such pixel has mean NaN.
// Segments are processed in batches on a bounded pool.
func Means(ctx context.Context, stack *gdalio.Stack, segments []aoi.Feature, opts Options) ([][]float64, error) {
	gt := stack.Georef.Transform
	if gt[2] != 0 || gt[4] != 0 {
		return nil, eris.New("zonal: feature stack must be north-up")
	}
	batch := max(opts.BatchSize, 1)
	out := make([][]float64, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for start := 0; start < len(segments); start += batch {
		end := min(start+batch, len(segments))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, err := segmentMeans(stack, segments[i].Geometry, opts.NoData)
				if err != nil {
					return eris.Wrapf(err, "zonal: segment %d", i)
				}
				out[i] = m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func segmentMeans(stack *gdalio.Stack, mp *geom.MultiPolygon, nodata float64) ([]float64, error) {
	means := make([]float64, len(stack.Bands))
	for b := range means {
		means[b] = math.NaN()
	}
	sub, r0, c0, ok := window(stack, mp)
	if !ok {
		return means, nil
	}

	inside := make([]bool, sub.Rows*sub.Cols)
	for p := 0; p < mp.NumPolygons(); p++ {
		mask, err := raster.PolygonMask(mp.Polygon(p), sub)
		if err != nil {
			return nil, err
		}
		for i, in := range mask {
			inside[i] = inside[i] || in
		}
	}

	for b, band := range stack.Bands {
		sum, n := 0.0, 0
		for i, in := range inside {
			if !in {
				continue
			}
			r, c := r0+i/sub.Cols, c0+i%sub.Cols
			v := band.At(r, c)
			if math.IsNaN(v) || v == nodata {
				continue
			}
			sum += v
			n++
		}
		if n > 0 {
			means[b] = sum / float64(n)
		}
	}
	return means, nil
}

// window clips the geometry's envelope to the stack and returns it as a
// sub-grid whose transform is shifted to the window origin.
func window(stack *gdalio.Stack, mp *geom.MultiPolygon) (raster.Target, int, int, bool) {
	if mp == nil || mp.Empty() {
		return raster.Target{}, 0, 0, false
	}
	gt := stack.Georef.Transform
	b := mp.Bounds()

	c0 := max(int(math.Floor((b.Min(0)-gt[0])/gt[1])), 0)
	c1 := min(int(math.Ceil((b.Max(0)-gt[0])/gt[1])), stack.Cols)
	r0 := max(int(math.Floor((b.Max(1)-gt[3])/gt[5])), 0)
	r1 := min(int(math.Ceil((b.Min(1)-gt[3])/gt[5])), stack.Rows)
	if c0 >= c1 || r0 >= r1 {
		return raster.Target{}, 0, 0, false
	}

	x0, y0 := gt.Apply(float64(c0), float64(r0))
	return raster.Target{
		Georef: raster.Georef{
			Transform: raster.GeoTransform{x0, gt[1], 0, y0, 0, gt[5]},
			CRS:       stack.Georef.CRS,
		},
		Rows: r1 - r0,
		Cols: c1 - c0,
	}, r0, c0, true
}
