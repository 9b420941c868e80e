package monitoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inundation-cli/internal/model"
)

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObserveResult(model.RunStatusComplete, &model.RunResult{
		ScenesClassified: 3, ScenesSkipped: 1, ObservedPixels: 16, MaxFrequency: 3, DurationMs: 1500,
	})
	m.Thresholds.WithLabelValues("vv").Observe(-16)
	m.CatalogItems.Set(7)
	m.ObserveSnapshot(&Snapshot{ByStatus: map[model.RunStatus]int{model.RunStatusFailed: 2}, FailRate: 0.5})

	path := filepath.Join(t.TempDir(), "metrics", "inundation.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `inundation_runs_total{status="complete"} 1`)
	assert.Contains(t, text, `inundation_scenes_total{outcome="classified"} 3`)
	assert.Contains(t, text, `inundation_scenes_total{outcome="skipped"} 1`)
	assert.Contains(t, text, `inundation_pixels{kind="observed"} 16`)
	assert.Contains(t, text, "inundation_max_frequency 3")
	assert.Contains(t, text, "inundation_run_duration_seconds 1.5")
	assert.Contains(t, text, `inundation_threshold_db_count{channel="vv"} 1`)
	assert.Contains(t, text, "inundation_catalog_items 7")
	assert.Contains(t, text, `inundation_history_runs{status="failed"} 2`)
	assert.Contains(t, text, "inundation_history_fail_rate 0.5")
}

func TestMetrics_FailedRunWithoutResult(t *testing.T) {
	m := NewMetrics()
	m.ObserveResult(model.RunStatusFailed, nil)

	path := filepath.Join(t.TempDir(), "m.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `inundation_runs_total{status="failed"} 1`)
	assert.NotContains(t, string(data), "inundation_scenes_total")
}

func TestMetrics_EmptyPathNoop(t *testing.T) {
	assert.NoError(t, NewMetrics().WriteTextfile(""))
}
