package model

import "time"

// RunStatus represents the current state of an inundation run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusLoading     RunStatus = "loading"
	RunStatusFiltering   RunStatus = "filtering"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusWriting     RunStatus = "writing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// Run is one inundation-frequency computation.
type Run struct {
	ID        string     `json:"id"`
	AOIPath   string     `json:"aoi_path"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Output    string     `json:"output"`
	Params    RunParams  `json:"params"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunParams records the processing parameters a run used.
type RunParams struct {
	CRS           string  `json:"crs" yaml:"crs"`
	Resolution    float64 `json:"resolution" yaml:"resolution"`
	FilterWindow  int     `json:"filter_window" yaml:"filter_window"`
	ThresholdMode string  `json:"threshold_mode" yaml:"threshold_mode"`
	HistogramBins int     `json:"histogram_bins" yaml:"histogram_bins"`
	Normalize     bool    `json:"normalize" yaml:"normalize"`
}

// RunResult summarizes a finished run.
type RunResult struct {
	Scenes           int     `json:"scenes" yaml:"scenes"`
	ScenesClassified int     `json:"scenes_classified" yaml:"scenes_classified"`
	ScenesSkipped    int     `json:"scenes_skipped" yaml:"scenes_skipped"`
	ObservedPixels   int     `json:"observed_pixels" yaml:"observed_pixels"`
	NoDataPixels     int     `json:"nodata_pixels" yaml:"nodata_pixels"`
	MaxFrequency     float64 `json:"max_frequency" yaml:"max_frequency"`
	DurationMs       int64   `json:"duration_ms" yaml:"duration_ms"`
	Error            string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// SceneOutcome records how one scene fared within a run.
type SceneOutcome struct {
	RunID       string    `json:"run_id" yaml:"-"`
	Scene       string    `json:"scene" yaml:"scene"`
	Time        time.Time `json:"time" yaml:"time"`
	ItemIDs     []string  `json:"item_ids" yaml:"item_ids"`
	VVThreshold float64   `json:"vv_threshold" yaml:"vv_threshold"`
	VHThreshold float64   `json:"vh_threshold" yaml:"vh_threshold"`
	ValidPixels int       `json:"valid_pixels" yaml:"valid_pixels"`
	WaterPixels int       `json:"water_pixels" yaml:"water_pixels"`
	Skipped     bool      `json:"skipped" yaml:"skipped"`
	Reason      string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}
