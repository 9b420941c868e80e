package pipeline

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/config"
	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/sar"
)

// ThresholdMode selects how Otsu thresholds are scoped.
type ThresholdMode string

const (
	// ModePerScene computes one threshold per channel for every scene.
	ModePerScene ThresholdMode = "per_scene"
	// ModeGlobal pools each channel's samples across every scene of the run.
	ModeGlobal ThresholdMode = "global"
)

// RunConfig is the immutable set of processing parameters for one run. It
// is passed by value and never read from process-wide state.
type RunConfig struct {
	Window  int
	Bins    int
	Mode    ThresholdMode
	Workers int
	// FixedVV and FixedVH override the computed thresholds. NaN computes.
	FixedVV   float64
	FixedVH   float64
	Normalize bool
}

// DefaultRunConfig returns the stock parameters: window 7, 256 bins,
// per-scene Otsu thresholds.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Window:  sar.DefaultWindow,
		Bins:    sar.DefaultBins,
		Mode:    ModePerScene,
		Workers: 4,
		FixedVV: math.NaN(),
		FixedVH: math.NaN(),
	}
}

// NewRunConfig derives a RunConfig from application configuration. Unset
// thresholds are computed with Otsu.
func NewRunConfig(cfg *config.Config) RunConfig {
	rc := DefaultRunConfig()
	rc.Window = cfg.Filter.Window
	rc.Bins = cfg.Classify.Bins
	rc.Mode = ThresholdMode(cfg.Classify.Mode)
	rc.Workers = cfg.Run.Workers
	rc.Normalize = cfg.Run.Normalize
	if cfg.Classify.VVThreshold != nil {
		rc.FixedVV = *cfg.Classify.VVThreshold
	}
	if cfg.Classify.VHThreshold != nil {
		rc.FixedVH = *cfg.Classify.VHThreshold
	}
	return rc
}

// Validate checks the parameters.
func (rc RunConfig) Validate() error {
	if rc.Window < 1 || rc.Window%2 == 0 {
		return eris.Errorf("pipeline: window must be a positive odd integer, got %d", rc.Window)
	}
	if rc.Bins < 2 {
		return eris.Errorf("pipeline: bins must be at least 2, got %d", rc.Bins)
	}
	if rc.Mode != ModePerScene && rc.Mode != ModeGlobal {
		return eris.Errorf("pipeline: unknown threshold mode %q", rc.Mode)
	}
	if rc.Workers < 1 {
		return eris.Errorf("pipeline: workers must be at least 1, got %d", rc.Workers)
	}
	return nil
}

// Fixed returns the configured override for ch and whether one is set.
func (rc RunConfig) Fixed(ch model.Channel) (float64, bool) {
	v := rc.FixedVV
	if ch == model.VH {
		v = rc.FixedVH
	}
	return v, !math.IsNaN(v)
}

// Params returns the parameters as recorded in run history.
func (rc RunConfig) Params(crs string, resolution float64) model.RunParams {
	return model.RunParams{
		CRS:           crs,
		Resolution:    resolution,
		FilterWindow:  rc.Window,
		ThresholdMode: string(rc.Mode),
		HistogramBins: rc.Bins,
		Normalize:     rc.Normalize,
	}
}
