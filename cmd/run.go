package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/aoi"
	"github.com/sells-group/inundation-cli/internal/config"
	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/monitoring"
	"github.com/sells-group/inundation-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute inundation frequency for an AOI and date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		area, err := aoi.Load(cfg.AOI.Path)
		if err != nil {
			return eris.Wrap(err, "load aoi")
		}
		iv, err := model.ParseInterval(cfg.Run.Start, cfg.Run.End)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		loader, err := newLoader(st)
		if err != nil {
			return err
		}

		metrics := monitoring.NewMetrics()
		opts := []pipeline.RunnerOption{pipeline.WithMetrics(metrics)}
		if st != nil {
			opts = append(opts, pipeline.WithStore(st))
		}

		report, err := pipeline.NewRunner(loader, opts...).Run(ctx, pipeline.Job{
			AOI:             area,
			AOIPath:         cfg.AOI.Path,
			Interval:        iv,
			Output:          cfg.Run.Output,
			CRS:             cfg.Grid.CRS,
			Resolution:      cfg.Grid.Resolution,
			Config:          pipeline.NewRunConfig(cfg),
			Quicklook:       cfg.Run.Quicklook,
			WriteValidCount: cfg.Run.WriteValidCount,
		})
		if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			zap.L().Warn("write metrics textfile failed", zap.Error(werr))
		}
		if err != nil {
			return err
		}

		printReport(os.Stdout, report)
		return nil
	},
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	f.String("aoi", "", "AOI polygon file (.shp or .geojson)")
	f.String("start", "", "first acquisition date (YYYY-MM-DD)")
	f.String("end", "", "last acquisition date (YYYY-MM-DD)")
	f.String("out", "", "output frequency GeoTIFF path")
	f.String("crs", "", "output grid CRS (e.g. EPSG:32632)")
	f.Float64("resolution", 0, "output pixel size in CRS units")
	f.Int("window", 0, "Lee filter window (odd)")
	f.Float64("vv-threshold", 0, "fixed VV threshold in dB (unset computes with Otsu)")
	f.Float64("vh-threshold", 0, "fixed VH threshold in dB (unset computes with Otsu)")
	f.String("threshold-mode", "", "threshold mode: per_scene or global")
	f.Int("workers", 0, "concurrent scene workers")
	f.Bool("normalize", false, "write water fraction of valid observations instead of counts")
	f.Bool("quicklook", false, "also write a PNG quicklook")
	f.Bool("valid-count", false, "also write the valid observation count raster")
}

// applyRunFlags overrides config values with flags the user set.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("aoi") {
		c.AOI.Path, _ = f.GetString("aoi")
	}
	if f.Changed("start") {
		c.Run.Start, _ = f.GetString("start")
	}
	if f.Changed("end") {
		c.Run.End, _ = f.GetString("end")
	}
	if f.Changed("out") {
		c.Run.Output, _ = f.GetString("out")
	}
	if f.Changed("crs") {
		c.Grid.CRS, _ = f.GetString("crs")
	}
	if f.Changed("resolution") {
		c.Grid.Resolution, _ = f.GetFloat64("resolution")
	}
	if f.Changed("window") {
		c.Filter.Window, _ = f.GetInt("window")
	}
	if f.Changed("vv-threshold") {
		v, _ := f.GetFloat64("vv-threshold")
		c.Classify.VVThreshold = &v
	}
	if f.Changed("vh-threshold") {
		v, _ := f.GetFloat64("vh-threshold")
		c.Classify.VHThreshold = &v
	}
	if f.Changed("threshold-mode") {
		c.Classify.Mode, _ = f.GetString("threshold-mode")
	}
	if f.Changed("workers") {
		c.Run.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("normalize") {
		c.Run.Normalize, _ = f.GetBool("normalize")
	}
	if f.Changed("quicklook") {
		c.Run.Quicklook, _ = f.GetBool("quicklook")
	}
	if f.Changed("valid-count") {
		c.Run.WriteValidCount, _ = f.GetBool("valid-count")
	}
}

// printReport writes a short run summary to w.
func printReport(w io.Writer, r *pipeline.Report) {
	res := r.Result
	_, _ = fmt.Fprintf(w, "run %s complete\n", r.RunID)
	_, _ = fmt.Fprintf(w, "  scenes: %d (%d classified, %d skipped)\n", res.Scenes, res.ScenesClassified, res.ScenesSkipped)
	_, _ = fmt.Fprintf(w, "  pixels: %d observed, %d no-data\n", res.ObservedPixels, res.NoDataPixels)
	_, _ = fmt.Fprintf(w, "  max frequency: %g\n", res.MaxFrequency)
	_, _ = fmt.Fprintf(w, "  frequency: %s\n", r.Paths.Frequency)
	if r.Paths.ValidCount != "" {
		_, _ = fmt.Fprintf(w, "  valid count: %s\n", r.Paths.ValidCount)
	}
	if r.Paths.Quicklook != "" {
		_, _ = fmt.Fprintf(w, "  quicklook: %s\n", r.Paths.Quicklook)
	}
	_, _ = fmt.Fprintf(w, "  manifest: %s\n", r.Paths.Manifest)
}
