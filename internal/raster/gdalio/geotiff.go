package gdalio

import (
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// WriteOptions controls GeoTIFF encoding.
type WriteOptions struct {
	Compress     string
	NoData       float64
	Descriptions []string
}

// WriteOption mutates WriteOptions.
type WriteOption func(*WriteOptions)

// WithCompression selects the GeoTIFF COMPRESS creation option.
func WithCompression(c string) WriteOption {
	return func(o *WriteOptions) { o.Compress = c }
}

// WithNoData sets the nodata value of every band.
func WithNoData(v float64) WriteOption {
	return func(o *WriteOptions) { o.NoData = v }
}

// WithDescription sets the first band's description.
func WithDescription(d string) WriteOption {
	return WithBandDescriptions(d)
}

// WithBandDescriptions sets band descriptions in band order.
func WithBandDescriptions(d ...string) WriteOption {
	return func(o *WriteOptions) { o.Descriptions = d }
}

// WriteGeoTIFF writes g as a single-band float32 GeoTIFF. See WriteBands.
func WriteGeoTIFF(path string, g *raster.Grid, ref raster.Georef, opts ...WriteOption) error {
	return WriteBands(path, []*raster.Grid{g}, ref, opts...)
}

// WriteBands writes grids as the bands of a float32 GeoTIFF. The file is
// written to path+".tmp" and renamed into place, so path either holds a
// complete raster or is untouched. NaN cells are written as the nodata
// value (NaN unless overridden).
func WriteBands(path string, grids []*raster.Grid, ref raster.Georef, opts ...WriteOption) error {
	o := WriteOptions{Compress: "DEFLATE", NoData: math.NaN()}
	for _, fn := range opts {
		fn(&o)
	}
	if len(grids) == 0 {
		return eris.New("gdalio: no bands to write")
	}
	rows, cols := grids[0].Rows, grids[0].Cols
	if rows <= 0 || cols <= 0 {
		return eris.Errorf("gdalio: cannot write empty grid %dx%d", rows, cols)
	}
	for i, g := range grids {
		if !g.SameShape(grids[0]) {
			return eris.Wrapf(model.ErrMalformedGrid, "gdalio: band %d is %dx%d, want %dx%d", i+1, g.Rows, g.Cols, rows, cols)
		}
	}
	Register()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "gdalio: create output directory %s", dir)
		}
	}

	var projection string
	if ref.CRS != "" {
		var err error
		if projection, err = wkt(ref.CRS); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	ds, err := godal.Create(godal.GTiff, tmp, len(grids), godal.Float32, cols, rows,
		godal.CreationOption("COMPRESS="+o.Compress, "TILED=YES", "BIGTIFF=IF_SAFER"))
	if err != nil {
		return eris.Wrapf(err, "gdalio: create %s", tmp)
	}

	werr := func() error {
		if err := ds.SetGeoTransform([6]float64(ref.Transform)); err != nil {
			return eris.Wrap(err, "gdalio: set geotransform")
		}
		if projection != "" {
			if err := ds.SetProjection(projection); err != nil {
				return eris.Wrap(err, "gdalio: set projection")
			}
		}
		buf := make([]float32, rows*cols)
		for b, band := range ds.Bands() {
			if err := band.SetNoData(o.NoData); err != nil {
				return eris.Wrapf(err, "gdalio: set nodata of band %d", b+1)
			}
			if b < len(o.Descriptions) && o.Descriptions[b] != "" {
				if err := band.SetDescription(o.Descriptions[b]); err != nil {
					return eris.Wrapf(err, "gdalio: set description of band %d", b+1)
				}
			}
			for i, v := range grids[b].Data {
				if math.IsNaN(v) {
					buf[i] = float32(o.NoData)
				} else {
					buf[i] = float32(v)
				}
			}
			if err := band.Write(0, 0, buf, cols, rows); err != nil {
				return eris.Wrapf(err, "gdalio: write band %d", b+1)
			}
		}
		return nil
	}()
	cerr := ds.Close()
	if werr == nil && cerr != nil {
		werr = eris.Wrapf(cerr, "gdalio: flush %s", tmp)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return werr
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "gdalio: rename %s", tmp)
	}
	return nil
}

// Stack is every band of a raster file read into memory.
type Stack struct {
	Bands        []*raster.Grid
	Descriptions []string
	NoData       []float64
	HasNoData    []bool
	Georef       raster.Georef
	Rows         int
	Cols         int
}

// ReadStack reads every band of path as float64. Cells equal to a band's
// nodata value become NaN.
func ReadStack(path string) (*Stack, error) {
	Register()
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, eris.Wrapf(err, "gdalio: open %s", path)
	}
	defer func() { _ = ds.Close() }()

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, eris.Wrapf(err, "gdalio: read geotransform of %s", path)
	}

	out := &Stack{
		Georef: raster.Georef{Transform: raster.GeoTransform(gt), CRS: ds.Projection()},
		Rows:   st.SizeY,
		Cols:   st.SizeX,
	}
	for i, band := range ds.Bands() {
		g := raster.NewGrid(st.SizeY, st.SizeX)
		if err := band.Read(0, 0, g.Data, st.SizeX, st.SizeY); err != nil {
			return nil, eris.Wrapf(err, "gdalio: read band %d of %s", i+1, path)
		}
		nd, ok := band.NoData()
		if ok && !math.IsNaN(nd) {
			for j, v := range g.Data {
				if v == nd {
					g.Data[j] = math.NaN()
				}
			}
		}
		out.Bands = append(out.Bands, g)
		out.Descriptions = append(out.Descriptions, band.Description())
		out.NoData = append(out.NoData, nd)
		out.HasNoData = append(out.HasNoData, ok)
	}
	if len(out.Bands) == 0 {
		return nil, eris.Errorf("gdalio: %s has no bands", path)
	}
	return out, nil
}
