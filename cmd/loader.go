package main

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/catalog"
	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
	"github.com/sells-group/inundation-cli/internal/resilience"
	"github.com/sells-group/inundation-cli/internal/scene"
	"github.com/sells-group/inundation-cli/internal/store"
)

// newCatalog builds the STAC client from config. A non-nil store doubles as
// the search cache.
func newCatalog(st store.Store) *catalog.Client {
	c := cfg.Catalog
	opts := []catalog.Option{
		catalog.WithHTTPClient(&http.Client{Timeout: time.Duration(c.TimeoutSecs) * time.Second}),
		catalog.WithRateLimit(c.RatePerSec),
		catalog.WithMaxPages(c.MaxPages),
		catalog.WithRetry(resilience.FromConfig(
			c.Retry.MaxAttempts,
			c.Retry.InitialBackoff,
			c.Retry.MaxBackoff,
			c.Retry.Multiplier,
			c.Retry.JitterFraction,
		)),
	}
	if st != nil && c.CacheTTLHours > 0 {
		opts = append(opts, catalog.WithCache(st, time.Duration(c.CacheTTLHours)*time.Hour))
	}
	return catalog.NewClient(c.URL, opts...)
}

// newLoader wires the catalog, GDAL warper and projector into a scene loader.
func newLoader(st store.Store) (*scene.Loader, error) {
	if len(cfg.Catalog.Assets) != 2 {
		return nil, eris.Errorf("catalog.assets must name the vv and vh assets, got %v", cfg.Catalog.Assets)
	}
	gdalio.Register()

	fetcher := gdalio.NewFetcher(cfg.Catalog.Assets[0], cfg.Catalog.Assets[1], cfg.Catalog.RequesterPays)
	return scene.NewLoader(newCatalog(st), fetcher, gdalio.Projector{}, scene.Options{
		Collection: cfg.Catalog.Collection,
		CRS:        cfg.Grid.CRS,
		Resolution: cfg.Grid.Resolution,
		PageLimit:  cfg.Catalog.PageLimit,
		Workers:    cfg.Run.Workers,
	}), nil
}
