package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/store"
)

const collectPageSize = 500

// Snapshot is a point-in-time view of recent run history.
type Snapshot struct {
	Total            int                     `json:"total"`
	ByStatus         map[model.RunStatus]int `json:"by_status"`
	FailRate         float64                 `json:"fail_rate"`
	AvgDurationMs    int64                   `json:"avg_duration_ms"`
	ScenesClassified int                     `json:"scenes_classified"`
	ScenesSkipped    int                     `json:"scenes_skipped"`
	Lookback         time.Duration           `json:"lookback"`
	CollectedAt      time.Time               `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector summarizes run history.
type Collector struct {
	runs  RunLister
	clock clockwork.Clock
}

// NewCollector creates a collector reading from runs.
func NewCollector(runs RunLister, clock clockwork.Clock) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{runs: runs, clock: clock}
}

// Collect summarizes runs created within lookback of now.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration) (*Snapshot, error) {
	now := c.clock.Now().UTC()
	snap := &Snapshot{
		ByStatus:    make(map[model.RunStatus]int),
		Lookback:    lookback,
		CollectedAt: now,
	}
	cutoff := now.Add(-lookback)

	var totalMs int64
	var finished, timed int
	for offset := 0; ; offset += collectPageSize {
		page, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: collectPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}
		done := len(page) < collectPageSize
		for _, r := range page {
			// Newest first, so the first old run ends the window.
			if r.CreatedAt.Before(cutoff) {
				done = true
				break
			}
			snap.Total++
			snap.ByStatus[r.Status]++
			if r.Status.Terminal() {
				finished++
			}
			if r.Result != nil {
				snap.ScenesClassified += r.Result.ScenesClassified
				snap.ScenesSkipped += r.Result.ScenesSkipped
				if r.Result.DurationMs > 0 {
					totalMs += r.Result.DurationMs
					timed++
				}
			}
		}
		if done {
			break
		}
	}

	if finished > 0 {
		snap.FailRate = float64(snap.ByStatus[model.RunStatusFailed]) / float64(finished)
	}
	if timed > 0 {
		snap.AvgDurationMs = totalMs / int64(timed)
	}
	return snap, nil
}
