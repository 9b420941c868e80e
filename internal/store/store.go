// Package store persists run history, per-scene outcomes and cached catalog
// searches in SQLite or PostgreSQL.
package store

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for inundation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Scene outcomes
	RecordSceneOutcomes(ctx context.Context, runID string, outcomes []model.SceneOutcome) error
	ListSceneOutcomes(ctx context.Context, runID string) ([]model.SceneOutcome, error)

	// Catalog search cache
	GetCachedSearch(ctx context.Context, key string) ([]byte, bool, error)
	SetCachedSearch(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	DeleteExpiredSearches(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock used for timestamps and cache expiry.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// nullableFloat maps NaN (an unset threshold) to SQL NULL.
func nullableFloat(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
