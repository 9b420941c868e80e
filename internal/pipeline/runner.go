// Package pipeline runs the inundation-frequency chain over a loaded scene
// collection and writes the results.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/monitoring"
	"github.com/sells-group/inundation-cli/internal/raster"
	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
	"github.com/sells-group/inundation-cli/internal/scene"
	"github.com/sells-group/inundation-cli/internal/store"
)

// Loader produces the scene collection for a job.
type Loader interface {
	Load(ctx context.Context, aoi model.AOI, iv model.Interval) (*scene.Result, error)
}

// Job is one run request.
type Job struct {
	AOI             model.AOI
	AOIPath         string
	Interval        model.Interval
	Output          string
	CRS             string
	Resolution      float64
	Config          RunConfig
	Quicklook       bool
	WriteValidCount bool
}

// Report is what a successful run produced.
type Report struct {
	RunID    string
	Result   model.RunResult
	Outcomes []model.SceneOutcome
	Paths    Paths
	Manifest *Manifest
}

// Runner drives a Job through load, process and write, recording history
// and metrics when configured.
type Runner struct {
	loader  Loader
	store   store.Store
	metrics *monitoring.Metrics
	clock   clockwork.Clock
	log     *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore records runs and scene outcomes in st.
func WithStore(st store.Store) RunnerOption {
	return func(r *Runner) { r.store = st }
}

// WithMetrics records run metrics on m.
func WithMetrics(m *monitoring.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithClock sets the clock used for timing and manifest timestamps.
func WithClock(c clockwork.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// NewRunner creates a Runner.
func NewRunner(loader Loader, opts ...RunnerOption) *Runner {
	r := &Runner{
		loader: loader,
		clock:  clockwork.NewRealClock(),
		log:    zap.L().With(zap.String("component", "pipeline")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes job. Nothing is written unless every stage before the write
// succeeds, and each raster is replaced atomically.
func (r *Runner) Run(ctx context.Context, job Job) (*Report, error) {
	if err := job.Config.Validate(); err != nil {
		return nil, err
	}
	start := r.clock.Now()

	runID, err := r.createRun(ctx, job)
	if err != nil {
		return nil, err
	}
	log := r.log.With(zap.String("run_id", runID))
	log.Info("pipeline: starting run",
		zap.String("aoi", job.AOIPath),
		zap.String("interval", job.Interval.STAC()),
		zap.String("mode", string(job.Config.Mode)),
	)

	fail := func(err error) (*Report, error) {
		res := model.RunResult{Error: err.Error(), DurationMs: r.clock.Since(start).Milliseconds()}
		r.finish(ctx, runID, model.RunStatusFailed, &res, log)
		log.Error("pipeline: run failed", zap.Error(err))
		return nil, err
	}

	r.setStatus(ctx, runID, model.RunStatusLoading, log)
	var loaded *scene.Result
	if err := r.stage("load", func() error {
		var lerr error
		loaded, lerr = r.loader.Load(ctx, job.AOI, job.Interval)
		return lerr
	}); err != nil {
		return fail(eris.Wrap(err, "pipeline: load scenes"))
	}
	coll := &loaded.Collection
	if r.metrics != nil {
		r.metrics.CatalogItems.Set(float64(countItems(loaded)))
		r.metrics.Scenes.WithLabelValues("failed").Add(float64(len(loaded.Failed)))
	}

	r.setStatus(ctx, runID, model.RunStatusFiltering, log)
	var filtered *model.Collection
	if err := r.stage("filter", func() error {
		var ferr error
		filtered, ferr = Filter(ctx, coll, job.Config)
		return ferr
	}); err != nil {
		return fail(err)
	}

	r.setStatus(ctx, runID, model.RunStatusClassifying, log)
	var cl *Classified
	if err := r.stage("classify", func() error {
		var cerr error
		cl, cerr = Classify(ctx, filtered, job.Config)
		return cerr
	}); err != nil {
		return fail(err)
	}

	r.setStatus(ctx, runID, model.RunStatusAggregating, log)
	var out *Output
	if err := r.stage("aggregate", func() error {
		var aerr error
		out, aerr = Aggregate(cl, coll.Georef, job.Config)
		return aerr
	}); err != nil {
		return fail(err)
	}

	// Cancellation after aggregation still leaves no output behind.
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: cancelled before write"))
	}

	outcomes := make([]model.SceneOutcome, 0, len(cl.Outcomes)+len(loaded.Failed))
	outcomes = append(outcomes, cl.Outcomes...)
	outcomes = append(outcomes, fetchOutcomes(loaded.Failed)...)
	result := out.Summary(len(loaded.Failed))
	paths := OutputPaths(job.Output, job.WriteValidCount, job.Quicklook)

	r.setStatus(ctx, runID, model.RunStatusWriting, log)
	manifest := &Manifest{
		RunID:     runID,
		CreatedAt: start.UTC(),
		AOI:       job.AOIPath,
		Start:     job.Interval.Start.Format(model.DateLayout),
		End:       job.Interval.End.Format(model.DateLayout),
		Params:    job.Config.Params(job.CRS, job.Resolution),
		Grid: GridInfo{
			CRS:          out.Georef.CRS,
			Rows:         out.Frequency.Rows,
			Cols:         out.Frequency.Cols,
			GeoTransform: out.Georef.Transform[:],
		},
		Global: cl.Global,
		Scenes: outcomes,
	}
	if err := r.stage("write", func() error {
		return r.write(out, &paths, manifest, &result, start, log)
	}); err != nil {
		return fail(err)
	}

	if r.store != nil {
		if err := r.store.RecordSceneOutcomes(ctx, runID, outcomes); err != nil {
			log.Warn("pipeline: failed to record scene outcomes", zap.Error(err))
		}
	}
	r.finish(ctx, runID, model.RunStatusComplete, &result, log)
	if r.metrics != nil {
		for _, o := range cl.Outcomes {
			if o.Skipped {
				continue
			}
			r.metrics.Thresholds.WithLabelValues(string(model.VV)).Observe(o.VVThreshold)
			r.metrics.Thresholds.WithLabelValues(string(model.VH)).Observe(o.VHThreshold)
		}
		r.metrics.LastSuccess.Set(float64(r.clock.Now().Unix()))
	}

	log.Info("pipeline: run complete",
		zap.Int("scenes", result.Scenes),
		zap.Int("classified", result.ScenesClassified),
		zap.Int("skipped", result.ScenesSkipped),
		zap.Int("observed_pixels", result.ObservedPixels),
		zap.Float64("max_frequency", result.MaxFrequency),
		zap.Int64("duration_ms", result.DurationMs),
	)

	return &Report{
		RunID:    runID,
		Result:   result,
		Outcomes: outcomes,
		Paths:    paths,
		Manifest: manifest,
	}, nil
}

// write places every output, then the manifest. If any step fails the
// outputs already renamed into place are removed again.
func (r *Runner) write(out *Output, paths *Paths, m *Manifest, result *model.RunResult, start time.Time, log *zap.Logger) (err error) {
	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, p := range written {
			if rerr := os.Remove(p); rerr != nil && !os.IsNotExist(rerr) {
				log.Warn("pipeline: failed to remove partial output", zap.String("path", p), zap.Error(rerr))
			}
		}
	}()

	if err := gdalio.WriteGeoTIFF(paths.Frequency, out.Frequency, out.Georef,
		gdalio.WithDescription("inundation_frequency")); err != nil {
		return eris.Wrap(err, "pipeline: write frequency")
	}
	written = append(written, paths.Frequency)
	if paths.ValidCount != "" {
		if err := gdalio.WriteGeoTIFF(paths.ValidCount, out.ValidCount, out.Georef,
			gdalio.WithDescription("valid_observations")); err != nil {
			return eris.Wrap(err, "pipeline: write valid count")
		}
		written = append(written, paths.ValidCount)
	}
	if paths.Quicklook != "" {
		title := fmt.Sprintf("Inundation frequency %s to %s", m.Start, m.End)
		if err := raster.Quicklook(paths.Quicklook, title, out.Frequency, out.Georef); err != nil {
			log.Warn("pipeline: quicklook skipped", zap.Error(err))
			paths.Quicklook = ""
		} else {
			written = append(written, paths.Quicklook)
		}
	}

	result.DurationMs = r.clock.Since(start).Milliseconds()
	m.Outputs = *paths
	m.Result = *result
	return WriteManifest(paths.Manifest, m)
}

// stage runs fn and records its wall time.
func (r *Runner) stage(name string, fn func() error) error {
	start := r.clock.Now()
	err := fn()
	if r.metrics != nil {
		r.metrics.StageSeconds.WithLabelValues(name).Observe(r.clock.Since(start).Seconds())
	}
	return err
}

func (r *Runner) createRun(ctx context.Context, job Job) (string, error) {
	if r.store == nil {
		return uuid.New().String(), nil
	}
	run, err := r.store.CreateRun(ctx, model.Run{
		AOIPath: job.AOIPath,
		Start:   job.Interval.Start,
		End:     job.Interval.End,
		Output:  job.Output,
		Params:  job.Config.Params(job.CRS, job.Resolution),
	})
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create run")
	}
	return run.ID, nil
}

func (r *Runner) setStatus(ctx context.Context, runID string, status model.RunStatus, log *zap.Logger) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
	}
}

// finish records the terminal state even when ctx was cancelled.
func (r *Runner) finish(ctx context.Context, runID string, status model.RunStatus, res *model.RunResult, log *zap.Logger) {
	if r.metrics != nil {
		r.metrics.ObserveResult(status, res)
	}
	if r.store == nil {
		return
	}
	if err := r.store.UpdateRunResult(context.WithoutCancel(ctx), runID, status, res); err != nil {
		log.Warn("pipeline: failed to record result", zap.Error(err))
	}
}

func fetchOutcomes(failed []scene.FailedGroup) []model.SceneOutcome {
	out := make([]model.SceneOutcome, 0, len(failed))
	for _, f := range failed {
		t, _ := time.Parse(model.DateLayout, f.Day)
		out = append(out, model.SceneOutcome{
			Scene:       f.Day,
			Time:        t,
			ItemIDs:     f.ItemIDs,
			VVThreshold: math.NaN(),
			VHThreshold: math.NaN(),
			Skipped:     true,
			Reason:      "fetch: " + f.Err.Error(),
		})
	}
	return out
}

func countItems(res *scene.Result) int {
	n := 0
	for _, s := range res.Collection.Scenes {
		n += len(s.ItemIDs)
	}
	for _, f := range res.Failed {
		n += len(f.ItemIDs)
	}
	return n
}
