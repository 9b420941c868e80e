package gdalio

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/catalog"
	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
	"github.com/sells-group/inundation-cli/internal/resilience"
)

// Fetcher warps the assets of one solar-day group onto a target grid.
type Fetcher struct {
	// Assets maps each channel to the STAC asset key holding it.
	Assets map[model.Channel]string
	// RequesterPays signs S3 reads with x-amz-request-payer.
	RequesterPays bool
	// Resampling is the gdalwarp -r method.
	Resampling string
	// Retry governs re-opening sources after transient HTTP failures.
	Retry resilience.Policy
}

// NewFetcher returns a Fetcher reading vv/vh from the given asset keys.
func NewFetcher(vvAsset, vhAsset string, requesterPays bool) *Fetcher {
	return &Fetcher{
		Assets:        map[model.Channel]string{model.VV: vvAsset, model.VH: vhAsset},
		RequesterPays: requesterPays,
		Resampling:    "bilinear",
		Retry:         retryPolicy(),
	}
}

func retryPolicy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.OnRetry = resilience.RetryLogger("gdalio", "warp")
	return p
}

// Fetch mosaics every item of g per channel in ascending item-ID order, so
// later items overwrite earlier ones where both have data. Cells no item
// covers are NaN.
func (f *Fetcher) Fetch(ctx context.Context, g catalog.DayGroup, t raster.Target) (map[model.Channel]*raster.Grid, error) {
	Register()
	log := zap.L().With(zap.String("component", "gdalio"), zap.String("day", g.Day.Format(model.DateLayout)))

	out := make(map[model.Channel]*raster.Grid, len(model.Channels))
	for _, ch := range model.Channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, ok := f.Assets[ch]
		if !ok {
			return nil, eris.Errorf("gdalio: no asset configured for channel %s", ch)
		}

		var names []string
		for _, it := range g.Items {
			href, ok := it.Href(key)
			if !ok {
				log.Debug("item lacks asset", zap.String("item", it.ID), zap.String("asset", key))
				continue
			}
			names = append(names, VSIPath(href))
		}
		if len(names) == 0 {
			return nil, eris.Errorf("gdalio: no %s asset in group %s", key, g.Day.Format(model.DateLayout))
		}

		grid, err := resilience.Do(ctx, f.Retry, func(context.Context) (*raster.Grid, error) {
			return f.warp(names, t)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "gdalio: warp %s for %s", ch, g.Day.Format(model.DateLayout))
		}
		log.Debug("warped channel", zap.String("channel", string(ch)), zap.Int("sources", len(names)))
		out[ch] = grid
	}
	return out, nil
}

func (f *Fetcher) warp(names []string, t raster.Target) (*raster.Grid, error) {
	var opts []godal.OpenOption
	if f.RequesterPays {
		opts = append(opts, godal.ConfigOption("AWS_REQUEST_PAYER=requester"))
	}

	srcs := make([]*godal.Dataset, 0, len(names))
	defer func() {
		for _, ds := range srcs {
			_ = ds.Close()
		}
	}()
	for _, n := range names {
		ds, err := godal.Open(n, opts...)
		if err != nil {
			return nil, eris.Wrapf(err, "gdalio: open %s", n)
		}
		srcs = append(srcs, ds)
	}

	dst, err := godal.Warp("", srcs, WarpSwitches(t, f.Resampling))
	if err != nil {
		return nil, eris.Wrap(err, "gdalio: gdalwarp")
	}
	defer func() { _ = dst.Close() }()

	st := dst.Structure()
	if st.SizeX != t.Cols || st.SizeY != t.Rows {
		return nil, eris.Wrapf(model.ErrMalformedGrid, "gdalio: warp produced %dx%d, want %dx%d",
			st.SizeY, st.SizeX, t.Rows, t.Cols)
	}
	grid := raster.NewGrid(t.Rows, t.Cols)
	if err := dst.Bands()[0].Read(0, 0, grid.Data, t.Cols, t.Rows); err != nil {
		return nil, eris.Wrap(err, "gdalio: read warped band")
	}
	for i, v := range grid.Data {
		if v == 0 {
			grid.Data[i] = math.NaN()
		}
	}
	return grid, nil
}

// WarpSwitches returns the gdalwarp arguments that land sources exactly on
// t: same CRS, extent and pixel size, zero as nodata.
func WarpSwitches(t raster.Target, resampling string) []string {
	b := t.Bounds()
	if resampling == "" {
		resampling = "bilinear"
	}
	return []string{
		"-of", "MEM",
		"-t_srs", t.CRS,
		"-tr", ftoa(t.Resolution), ftoa(t.Resolution),
		"-te", ftoa(b.MinX), ftoa(b.MinY), ftoa(b.MaxX), ftoa(b.MaxY),
		"-r", resampling,
		"-srcnodata", "0",
		"-dstnodata", "0",
		"-ot", "Float32",
	}
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// VSIPath maps an asset href onto a GDAL virtual filesystem path.
func VSIPath(href string) string {
	switch {
	case strings.HasPrefix(href, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(href, "s3://")
	case strings.HasPrefix(href, "gs://"):
		return "/vsigs/" + strings.TrimPrefix(href, "gs://")
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return "/vsicurl/" + href
	default:
		return href
	}
}
