// Package gdalio moves rasters between GDAL datasets and in-memory grids:
// warping catalog assets onto a target grid, reading band stacks, writing
// GeoTIFFs, and reprojecting AOI geometry.
package gdalio

import (
	"os"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/inundation-cli/internal/raster"
)

var registerOnce sync.Once

// Register loads every GDAL driver. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		// Remote COGs have no sidecar files; skip the directory listing.
		if os.Getenv("GDAL_DISABLE_READDIR_ON_OPEN") == "" {
			_ = os.Setenv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		}
		godal.RegisterAll()
	})
}

// Projector reprojects geometry between CRSs given as EPSG codes, WKT or
// anything else GDAL accepts as user input. Axis order is traditional GIS
// (x=easting/longitude, y=northing/latitude).
type Projector struct{}

// ReprojectPolygon returns poly with every vertex transformed from one CRS
// to another. Identical CRS strings return poly unchanged.
func (Projector) ReprojectPolygon(poly *geom.Polygon, from, to string) (*geom.Polygon, error) {
	if from == to {
		return poly, nil
	}
	trn, closeFn, err := transform(from, to)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	stride := poly.Stride()
	src := poly.FlatCoords()
	n := len(src) / stride
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i], ys[i] = src[i*stride], src[i*stride+1]
	}
	if err := trn.TransformEx(xs, ys, nil, nil); err != nil {
		return nil, eris.Wrapf(err, "gdalio: transform polygon %s -> %s", from, to)
	}

	flat := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		flat[2*i], flat[2*i+1] = xs[i], ys[i]
	}
	ends := poly.Ends()
	if stride != 2 {
		scaled := make([]int, len(ends))
		for i, e := range ends {
			scaled[i] = e / stride * 2
		}
		ends = scaled
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends), nil
}

// ReprojectBounds transforms the four corners of b and returns their
// envelope in the destination CRS.
func (Projector) ReprojectBounds(b raster.Bounds, from, to string) (raster.Bounds, error) {
	if from == to {
		return b, nil
	}
	trn, closeFn, err := transform(from, to)
	if err != nil {
		return raster.Bounds{}, err
	}
	defer closeFn()

	xs := []float64{b.MinX, b.MaxX, b.MaxX, b.MinX}
	ys := []float64{b.MinY, b.MinY, b.MaxY, b.MaxY}
	if err := trn.TransformEx(xs, ys, nil, nil); err != nil {
		return raster.Bounds{}, eris.Wrapf(err, "gdalio: transform bounds %s -> %s", from, to)
	}
	out := raster.Bounds{MinX: xs[0], MinY: ys[0], MaxX: xs[0], MaxY: ys[0]}
	for i := 1; i < 4; i++ {
		out.MinX = min(out.MinX, xs[i])
		out.MaxX = max(out.MaxX, xs[i])
		out.MinY = min(out.MinY, ys[i])
		out.MaxY = max(out.MaxY, ys[i])
	}
	return out, nil
}

func transform(from, to string) (*godal.Transform, func(), error) {
	Register()
	src, err := godal.NewSpatialRef(from)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "gdalio: parse crs %q", from)
	}
	dst, err := godal.NewSpatialRef(to)
	if err != nil {
		src.Close()
		return nil, nil, eris.Wrapf(err, "gdalio: parse crs %q", to)
	}
	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		src.Close()
		dst.Close()
		return nil, nil, eris.Wrapf(err, "gdalio: create transform %s -> %s", from, to)
	}
	return trn, func() {
		trn.Close()
		src.Close()
		dst.Close()
	}, nil
}

// wkt renders a CRS identifier as WKT for dataset metadata.
func wkt(crs string) (string, error) {
	sr, err := godal.NewSpatialRef(crs)
	if err != nil {
		return "", eris.Wrapf(err, "gdalio: parse crs %q", crs)
	}
	defer sr.Close()
	s, err := sr.WKT()
	if err != nil {
		return "", eris.Wrapf(err, "gdalio: export crs %q", crs)
	}
	return s, nil
}
