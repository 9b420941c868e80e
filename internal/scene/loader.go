// Package scene turns an AOI and a date interval into a co-registered
// collection of dual-polarization scenes.
package scene

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inundation-cli/internal/catalog"
	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
)

// GeographicCRS is the CRS catalog searches are expressed in.
const GeographicCRS = "EPSG:4326"

// Fetcher resamples one solar-day group onto the target grid, one grid per
// channel.
type Fetcher interface {
	Fetch(ctx context.Context, g catalog.DayGroup, t raster.Target) (map[model.Channel]*raster.Grid, error)
}

// Projector reprojects polygons between CRSs.
type Projector interface {
	ReprojectPolygon(poly *geom.Polygon, from, to string) (*geom.Polygon, error)
}

// Options fixes the loader's catalog collection and output grid.
type Options struct {
	Collection string
	CRS        string
	Resolution float64
	PageLimit  int
	// Workers bounds concurrent group fetches. Zero means 1.
	Workers int
}

// FailedGroup records a solar-day group that could not be fetched.
type FailedGroup struct {
	Day     string
	ItemIDs []string
	Err     error
}

// Result is a loaded collection plus the groups that were dropped.
type Result struct {
	Collection model.Collection
	Target     raster.Target
	Failed     []FailedGroup
}

// Loader searches the catalog and assembles the scene collection.
type Loader struct {
	catalog   catalog.Searcher
	fetcher   Fetcher
	projector Projector
	opts      Options
	log       *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(searcher catalog.Searcher, fetcher Fetcher, projector Projector, opts Options) *Loader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Loader{
		catalog:   searcher,
		fetcher:   fetcher,
		projector: projector,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "scene")),
	}
}

// Search finds the catalog items intersecting the AOI and groups them by
// solar day. No matching item is model.ErrNoDataFound.
func (l *Loader) Search(ctx context.Context, aoi model.AOI, iv model.Interval) ([]catalog.DayGroup, error) {
	if aoi.Polygon == nil || aoi.Polygon.Empty() {
		return nil, eris.New("scene: empty aoi")
	}
	geo, err := l.projector.ReprojectPolygon(aoi.Polygon, aoi.CRS, GeographicCRS)
	if err != nil {
		return nil, eris.Wrap(err, "scene: project aoi to geographic")
	}

	items, err := l.catalog.Search(ctx, catalog.Query{
		Collections: []string{l.opts.Collection},
		Intersects:  geo,
		Interval:    iv,
		Limit:       l.opts.PageLimit,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, eris.Wrapf(model.ErrNoDataFound, "scene: no %s items between %s and %s",
			l.opts.Collection, iv.Start.Format(model.DateLayout), iv.End.Format(model.DateLayout))
	}
	return catalog.GroupBySolarDay(items), nil
}

// Target returns the output grid for the AOI and its inside-polygon mask.
func (l *Loader) Target(aoi model.AOI) (raster.Target, []bool, error) {
	local, err := l.projector.ReprojectPolygon(aoi.Polygon, aoi.CRS, l.opts.CRS)
	if err != nil {
		return raster.Target{}, nil, eris.Wrap(err, "scene: project aoi to target crs")
	}
	b := local.Bounds()
	t, err := raster.TargetForBounds(raster.Bounds{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)},
		l.opts.Resolution, l.opts.CRS)
	if err != nil {
		return raster.Target{}, nil, eris.Wrap(err, "scene: build target grid")
	}
	mask, err := raster.PolygonMask(local, t)
	if err != nil {
		return raster.Target{}, nil, eris.Wrap(err, "scene: rasterize aoi")
	}
	return t, mask, nil
}

// Load returns every scene covering the AOI within iv on the target grid.
// Cells outside the AOI polygon are NaN. Groups that fail to fetch are
// skipped; if all fail the result is model.ErrNoDataFound. A fetched grid
// off the target shape aborts the load with model.ErrMalformedGrid.
func (l *Loader) Load(ctx context.Context, aoi model.AOI, iv model.Interval) (*Result, error) {
	groups, err := l.Search(ctx, aoi, iv)
	if err != nil {
		return nil, err
	}
	t, mask, err := l.Target(aoi)
	if err != nil {
		return nil, err
	}
	if raster.MaskedCount(mask) == 0 {
		return nil, eris.Wrapf(model.ErrNoDataFound, "scene: aoi covers no %gm cell", t.Resolution)
	}

	l.log.Info("loading scenes",
		zap.Int("groups", len(groups)),
		zap.Int("rows", t.Rows),
		zap.Int("cols", t.Cols),
		zap.String("crs", t.CRS),
	)

	scenes := make([]*model.Scene, len(groups))
	var (
		mu     sync.Mutex
		failed []FailedGroup
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for i, grp := range groups {
		g.Go(func() error {
			day := grp.Day.Format(model.DateLayout)
			grids, err := l.fetcher.Fetch(gctx, grp, t)
			if err == nil {
				if cerr := checkGrids(grids, t); cerr != nil {
					return eris.Wrapf(cerr, "scene %s", day)
				}
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.log.Warn("skipping scene", zap.String("scene", day), zap.Strings("items", grp.IDs()), zap.Error(err))
				mu.Lock()
				failed = append(failed, FailedGroup{Day: day, ItemIDs: grp.IDs(), Err: err})
				mu.Unlock()
				return nil
			}
			for _, ch := range model.Channels {
				if err := raster.ApplyMask(grids[ch], mask); err != nil {
					return err
				}
			}
			scenes[i] = &model.Scene{
				Time:    grp.Day,
				Grids:   grids,
				Georef:  t.Georef,
				ItemIDs: grp.IDs(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "scene: load")
	}

	coll := model.Collection{Georef: t.Georef, Rows: t.Rows, Cols: t.Cols}
	for _, s := range scenes {
		if s != nil {
			coll.Scenes = append(coll.Scenes, *s)
		}
	}
	if len(coll.Scenes) == 0 {
		return nil, eris.Wrapf(model.ErrNoDataFound, "scene: all %d scene groups failed to load", len(groups))
	}
	if err := coll.Validate(); err != nil {
		return nil, err
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Day < failed[j].Day })

	l.log.Info("scenes loaded", zap.Int("scenes", len(coll.Scenes)), zap.Int("failed", len(failed)))
	return &Result{Collection: coll, Target: t, Failed: failed}, nil
}

func checkGrids(grids map[model.Channel]*raster.Grid, t raster.Target) error {
	for _, ch := range model.Channels {
		g := grids[ch]
		if g == nil {
			return eris.Wrapf(model.ErrMalformedGrid, "scene: fetcher returned no %s grid", ch)
		}
		if g.Rows != t.Rows || g.Cols != t.Cols || len(g.Data) != t.Rows*t.Cols {
			return eris.Wrapf(model.ErrMalformedGrid, "scene: %s grid is %dx%d, want %dx%d", ch, g.Rows, g.Cols, t.Rows, t.Cols)
		}
	}
	return nil
}
