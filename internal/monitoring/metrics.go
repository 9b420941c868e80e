// Package monitoring exports batch-run metrics in the Prometheus text format
// and summarizes run history from the store.
package monitoring

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/model"
)

const namespace = "inundation"

// Metrics holds the counters and gauges recorded during a run. Each Metrics
// owns its registry so tests and repeated runs never collide.
type Metrics struct {
	Registry *prometheus.Registry

	Runs         *prometheus.CounterVec   // labels: status
	Scenes       *prometheus.CounterVec   // labels: outcome={classified,skipped,failed}
	Thresholds   *prometheus.HistogramVec // labels: channel
	Pixels       *prometheus.GaugeVec     // labels: kind={observed,nodata}
	MaxFrequency prometheus.Gauge
	StageSeconds *prometheus.HistogramVec // labels: stage
	RunSeconds   prometheus.Gauge
	LastSuccess  prometheus.Gauge
	CatalogItems prometheus.Gauge

	// Run history, filled from a Snapshot.
	HistoryRuns     *prometheus.GaugeVec // labels: status
	HistoryFailRate prometheus.Gauge
}

// NewMetrics creates and registers all run metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Inundation runs by terminal status.",
		}, []string{"status"}),
		Scenes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_total",
			Help:      "Scenes by processing outcome.",
		}, []string{"outcome"}),
		Thresholds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "threshold_db",
			Help:      "Water thresholds applied per channel, in dB.",
			Buckets:   []float64{-35, -30, -27, -24, -21, -18, -15, -12, -9, -6},
		}, []string{"channel"}),
		Pixels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pixels",
			Help:      "Output pixels by kind for the last run.",
		}, []string{"kind"}),
		MaxFrequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_frequency",
			Help:      "Largest per-pixel inundation frequency of the last run.",
		}),
		StageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"stage"}),
		RunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished.",
		}),
		CatalogItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_items",
			Help:      "Catalog items matched by the last search.",
		}),
		HistoryRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_runs",
			Help:      "Recorded runs within the lookback window by status.",
		}, []string{"status"}),
		HistoryFailRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_fail_rate",
			Help:      "Failed share of finished runs within the lookback window.",
		}),
	}

	m.Registry.MustRegister(
		m.Runs,
		m.Scenes,
		m.Thresholds,
		m.Pixels,
		m.MaxFrequency,
		m.StageSeconds,
		m.RunSeconds,
		m.LastSuccess,
		m.CatalogItems,
		m.HistoryRuns,
		m.HistoryFailRate,
	)
	return m
}

// ObserveResult records the summary of a finished run.
func (m *Metrics) ObserveResult(status model.RunStatus, r *model.RunResult) {
	m.Runs.WithLabelValues(string(status)).Inc()
	if r == nil {
		return
	}
	m.Scenes.WithLabelValues("classified").Add(float64(r.ScenesClassified))
	m.Scenes.WithLabelValues("skipped").Add(float64(r.ScenesSkipped))
	m.Pixels.WithLabelValues("observed").Set(float64(r.ObservedPixels))
	m.Pixels.WithLabelValues("nodata").Set(float64(r.NoDataPixels))
	m.MaxFrequency.Set(r.MaxFrequency)
	m.RunSeconds.Set(float64(r.DurationMs) / 1000)
}

// ObserveSnapshot publishes a run-history snapshot.
func (m *Metrics) ObserveSnapshot(s *Snapshot) {
	for status, n := range s.ByStatus {
		m.HistoryRuns.WithLabelValues(string(status)).Set(float64(n))
	}
	m.HistoryFailRate.Set(s.FailRate)
}

// WriteTextfile writes the registry for the node_exporter textfile
// collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "monitoring: create dir for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return eris.Wrapf(err, "monitoring: write textfile %s", path)
	}
	return nil
}
