package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://earth-search.aws.element84.com/v1", cfg.Catalog.URL)
	assert.Equal(t, "sentinel-1-grd", cfg.Catalog.Collection)
	assert.Equal(t, []string{"vv", "vh"}, cfg.Catalog.Assets)
	assert.Equal(t, 100, cfg.Catalog.PageLimit)
	assert.Equal(t, 3, cfg.Catalog.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Catalog.Retry.InitialBackoff)
	assert.InDelta(t, 2.0, cfg.Catalog.Retry.Multiplier, 0.001)
	assert.Equal(t, "EPSG:32632", cfg.Grid.CRS)
	assert.InDelta(t, 10.0, cfg.Grid.Resolution, 0.001)
	assert.Equal(t, 7, cfg.Filter.Window)
	assert.Equal(t, "per_scene", cfg.Classify.Mode)
	assert.Equal(t, 256, cfg.Classify.Bins)
	assert.Nil(t, cfg.Classify.VVThreshold)
	assert.Nil(t, cfg.Classify.VHThreshold)
	assert.Equal(t, 4, cfg.Run.Workers)
	assert.False(t, cfg.Run.Normalize)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"NDVI", "NDWI", "BSI"}, cfg.Entropy.Indices)
	assert.Equal(t, 20, cfg.Entropy.Bins)
	assert.InDelta(t, -1.0, cfg.Entropy.Min, 0.001)
	assert.Equal(t, "segment_id", cfg.Zonal.SegmentIDField)
	assert.InDelta(t, -9999.0, cfg.Zonal.NoData, 0.001)
	assert.Equal(t, 500, cfg.Zonal.BatchSize)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
aoi:
  path: /data/aoi.shp
grid:
  crs: EPSG:32633
  resolution: 20
classify:
  mode: global
  vv_threshold: -15.5
log:
  level: debug
  format: console
run:
  workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/aoi.shp", cfg.AOI.Path)
	assert.Equal(t, "EPSG:32633", cfg.Grid.CRS)
	assert.InDelta(t, 20.0, cfg.Grid.Resolution, 0.001)
	assert.Equal(t, "global", cfg.Classify.Mode)
	require.NotNil(t, cfg.Classify.VVThreshold)
	assert.InDelta(t, -15.5, *cfg.Classify.VVThreshold, 0.001)
	assert.Nil(t, cfg.Classify.VHThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Run.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, 7, cfg.Filter.Window)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
filter:
  window: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INUNDATION_STORE_DRIVER", "postgres")
	t.Setenv("INUNDATION_FILTER_WINDOW", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 9, cfg.Filter.Window)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("INUNDATION_CATALOG_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("INUNDATION_RUN_NORMALIZE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Catalog.Retry.MaxAttempts)
	assert.True(t, cfg.Run.Normalize)
}

func TestLoadZeroThresholdIsKept(t *testing.T) {
	dir := chdirTemp(t)
	yaml := `
classify:
  vv_threshold: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("INUNDATION_CLASSIFY_VH_THRESHOLD", "-21.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Classify.VVThreshold)
	assert.Equal(t, 0.0, *cfg.Classify.VVThreshold)
	require.NotNil(t, cfg.Classify.VHThreshold)
	assert.InDelta(t, -21.5, *cfg.Classify.VHThreshold, 0.001)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("grid: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.AOI.Path = "aoi.geojson"
	cfg.Run.Start = "2023-01-01"
	cfg.Run.End = "2023-12-31"
	cfg.Run.Output = "out.tif"
	cfg.Run.Workers = 4
	cfg.Grid.Resolution = 10
	cfg.Filter.Window = 7
	cfg.Classify.Mode = "per_scene"
	cfg.Store.Driver = "sqlite"
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.AOI.Path = ""
	cfg.Run.Output = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aoi.path")
	assert.Contains(t, err.Error(), "run.output")
}

func TestValidate_EvenWindow(t *testing.T) {
	cfg := validDefaults()
	cfg.Filter.Window = 6
	assert.Error(t, cfg.Validate("run"))
}

func TestValidate_BadMode(t *testing.T) {
	cfg := validDefaults()
	cfg.Classify.Mode = "monthly"
	assert.Error(t, cfg.Validate("run"))
}

func TestValidate_BadResolution(t *testing.T) {
	cfg := validDefaults()
	cfg.Grid.Resolution = 0
	assert.Error(t, cfg.Validate("search"))
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	assert.Error(t, cfg.Validate("run"))
}

func TestValidateEntropy(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("entropy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy.input_dir")

	cfg.Entropy.InputDir = "in"
	cfg.Entropy.OutputDir = "out"
	assert.NoError(t, cfg.Validate("entropy"))
}
