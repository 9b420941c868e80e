package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/monitoring"
	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
	"github.com/sells-group/inundation-cli/internal/scene"
	"github.com/sells-group/inundation-cli/internal/store"
)

var runEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) Load(ctx context.Context, aoi model.AOI, iv model.Interval) (*scene.Result, error) {
	args := m.Called(ctx, aoi, iv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scene.Result), args.Error(1)
}

type runnerFixture struct {
	loader  *mockLoader
	store   *store.SQLiteStore
	metrics *monitoring.Metrics
	runner  *Runner
	dir     string
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	gdalio.Register()
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(runEpoch)

	st, err := store.NewSQLite(filepath.Join(dir, "runs.db"), store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	f := &runnerFixture{loader: new(mockLoader), store: st, metrics: monitoring.NewMetrics(), dir: dir}
	f.runner = NewRunner(f.loader, WithStore(st), WithMetrics(f.metrics), WithClock(clock))
	return f
}

func (f *runnerFixture) job(t *testing.T) Job {
	t.Helper()
	iv, err := model.ParseInterval("2023-01-01", "2023-12-31")
	require.NoError(t, err)
	return Job{
		AOIPath:         "lake.geojson",
		Interval:        iv,
		Output:          filepath.Join(f.dir, "out", "freq.tif"),
		CRS:             testGeoref.CRS,
		Resolution:      10,
		Config:          fixedConfig(),
		WriteValidCount: true,
	}
}

func TestRunner_WritesOutputsAndHistory(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.job(t)
	loaded := &scene.Result{
		Collection: *threeScenes(),
		Failed: []scene.FailedGroup{
			{Day: "2023-02-10", ItemIDs: []string{"S1_bad"}, Err: errors.New("vsicurl timeout")},
		},
	}
	f.loader.On("Load", mock.Anything, job.AOI, job.Interval).Return(loaded, nil)

	rep, err := f.runner.Run(context.Background(), job)
	require.NoError(t, err)
	f.loader.AssertExpectations(t)

	assert.Equal(t, 4, rep.Result.Scenes)
	assert.Equal(t, 3, rep.Result.ScenesClassified)
	assert.Equal(t, 1, rep.Result.ScenesSkipped)
	assert.Equal(t, 2.0, rep.Result.MaxFrequency)
	require.Len(t, rep.Outcomes, 4)
	assert.True(t, rep.Outcomes[3].Skipped)
	assert.Contains(t, rep.Outcomes[3].Reason, "vsicurl timeout")

	// Frequency raster.
	stack, err := gdalio.ReadStack(rep.Paths.Frequency)
	require.NoError(t, err)
	require.Len(t, stack.Bands, 1)
	assert.Equal(t, testGeoref.Transform, stack.Georef.Transform)
	assert.True(t, math.IsNaN(stack.Bands[0].At(0, 0)))
	assert.Equal(t, 2.0, stack.Bands[0].At(1, 0))
	assert.Equal(t, 1.0, stack.Bands[0].At(1, 3))
	assert.Equal(t, "inundation_frequency", stack.Descriptions[0])

	// Valid-count raster.
	assert.Equal(t, filepath.Join(f.dir, "out", "freq_valid_count.tif"), rep.Paths.ValidCount)
	vc, err := gdalio.ReadStack(rep.Paths.ValidCount)
	require.NoError(t, err)
	assert.Equal(t, 3.0, vc.Bands[0].At(2, 2))

	// Manifest.
	m, err := ReadManifest(rep.Paths.Manifest)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, m.RunID)
	assert.Equal(t, "2023-01-01", m.Start)
	assert.Equal(t, "2023-12-31", m.End)
	assert.Equal(t, 4, m.Grid.Rows)
	assert.Equal(t, []float64{500000, 10, 0, 100040, 0, -10}, m.Grid.GeoTransform)
	assert.Equal(t, rep.Paths.Frequency, m.Outputs.Frequency)
	require.Len(t, m.Scenes, 4)
	assert.Equal(t, -15.0, m.Scenes[0].VVThreshold)
	assert.True(t, math.IsNaN(m.Scenes[3].VVThreshold))

	// No temporary files left behind.
	entries, err := os.ReadDir(filepath.Join(f.dir, "out"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}

	// History.
	run, err := f.store.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.ScenesClassified)
	assert.Equal(t, "per_scene", run.Params.ThresholdMode)

	outcomes, err := f.store.ListSceneOutcomes(context.Background(), rep.RunID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 4)

	// Metrics.
	prom := filepath.Join(f.dir, "inundation.prom")
	require.NoError(t, f.metrics.WriteTextfile(prom))
	text, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(text), `inundation_runs_total{status="complete"} 1`)
	assert.Contains(t, string(text), `inundation_scenes_total{outcome="failed"} 1`)
	assert.Contains(t, string(text), "inundation_catalog_items 4")
}

func TestRunner_NoDataLeavesNoOutput(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.job(t)
	f.loader.On("Load", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(model.ErrNoDataFound, "scene: no items"))

	_, err := f.runner.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNoDataFound))

	_, statErr := os.Stat(job.Output)
	assert.True(t, os.IsNotExist(statErr))

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Result)
	assert.Contains(t, runs[0].Result.Error, "no data found")
}

func TestRunner_ManifestFailureRemovesOutputs(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.job(t)
	f.loader.On("Load", mock.Anything, mock.Anything, mock.Anything).
		Return(&scene.Result{Collection: *threeScenes()}, nil)

	// A non-empty directory where the manifest goes makes its rename fail.
	paths := OutputPaths(job.Output, job.WriteValidCount, job.Quicklook)
	require.NoError(t, os.MkdirAll(filepath.Join(paths.Manifest, "keep"), 0o755))

	_, err := f.runner.Run(context.Background(), job)
	require.Error(t, err)

	assert.NoFileExists(t, paths.Frequency)
	assert.NoFileExists(t, paths.ValidCount)
	entries, err := os.ReadDir(filepath.Dir(job.Output))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
}

func TestRunner_CancelledBeforeWrite(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.job(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.loader.On("Load", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&scene.Result{Collection: *threeScenes()}, nil)

	_, err := f.runner.Run(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(job.Output)
	assert.True(t, os.IsNotExist(statErr))

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status, "terminal state recorded despite cancellation")
}

func TestRunner_InvalidConfig(t *testing.T) {
	f := newRunnerFixture(t)
	job := f.job(t)
	job.Config.Workers = 0

	_, err := f.runner.Run(context.Background(), job)
	require.Error(t, err)
	f.loader.AssertNotCalled(t, "Load", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_WithoutStore(t *testing.T) {
	gdalio.Register()
	dir := t.TempDir()
	loader := new(mockLoader)
	loader.On("Load", mock.Anything, mock.Anything, mock.Anything).Return(&scene.Result{Collection: *threeScenes()}, nil)

	job := Job{Output: filepath.Join(dir, "f.tif"), Config: fixedConfig(), Quicklook: true}
	rep, err := NewRunner(loader).Run(context.Background(), job)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, filepath.Join(dir, "f.png"), rep.Paths.Quicklook)
	assert.FileExists(t, rep.Paths.Quicklook)
	assert.Empty(t, rep.Paths.ValidCount)
	assert.FileExists(t, filepath.Join(dir, "f.tif.manifest.yaml"))
}
