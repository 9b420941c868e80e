package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inundation-cli/internal/db"
	"github.com/sells-group/inundation-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	clock   clockwork.Clock
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts ...Option) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool, pool.Close, opts...), nil
}

func newPostgresWithPool(pool db.Pool, closeFn func(), opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{pool: pool, clock: o.clock, closeFn: closeFn}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	aoi_path   TEXT NOT NULL,
	start_date TIMESTAMPTZ NOT NULL,
	end_date   TIMESTAMPTZ NOT NULL,
	output     TEXT NOT NULL,
	params     JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scene_outcomes (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	scene        TEXT NOT NULL,
	acquired_at  TIMESTAMPTZ NOT NULL,
	item_ids     JSONB NOT NULL,
	vv_threshold DOUBLE PRECISION,
	vh_threshold DOUBLE PRECISION,
	valid_pixels INTEGER NOT NULL DEFAULT 0,
	water_pixels INTEGER NOT NULL DEFAULT 0,
	skipped      BOOLEAN NOT NULL DEFAULT false,
	reason       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, scene)
);

CREATE TABLE IF NOT EXISTS search_cache (
	key        TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
`

// sceneOutcomeUpsert merges outcome rows keyed by run and scene.
var sceneOutcomeUpsert = db.UpsertConfig{
	Table: "scene_outcomes",
	Columns: []string{
		"run_id", "scene", "acquired_at", "item_ids", "vv_threshold", "vh_threshold",
		"valid_pixels", "water_pixels", "skipped", "reason",
	},
	ConflictKeys: []string{"run_id", "scene"},
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusQueued
	run.CreatedAt = s.clock.Now().UTC()
	run.UpdatedAt = run.CreatedAt

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, aoi_path, start_date, end_date, output, params, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.AOIPath, run.Start.UTC(), run.End.UTC(), run.Output, paramsJSON,
		string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.clock.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), s.clock.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, aoi_path, start_date, end_date, output, params, status, result, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordSceneOutcomes(ctx context.Context, runID string, outcomes []model.SceneOutcome) error {
	rows := make([][]any, 0, len(outcomes))
	for _, o := range outcomes {
		ids, err := json.Marshal(o.ItemIDs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal item ids")
		}
		rows = append(rows, []any{
			runID, o.Scene, o.Time.UTC(), ids,
			nullableFloat(o.VVThreshold), nullableFloat(o.VHThreshold),
			o.ValidPixels, o.WaterPixels, o.Skipped, o.Reason,
		})
	}
	if _, err := db.BulkUpsert(ctx, s.pool, sceneOutcomeUpsert, rows); err != nil {
		return eris.Wrapf(err, "postgres: record scene outcomes %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListSceneOutcomes(ctx context.Context, runID string) ([]model.SceneOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, scene, acquired_at, item_ids, vv_threshold, vh_threshold, valid_pixels, water_pixels, skipped, reason
		 FROM scene_outcomes WHERE run_id = $1 ORDER BY scene`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list scene outcomes %s", runID)
	}
	defer rows.Close()

	var out []model.SceneOutcome
	for rows.Next() {
		var o model.SceneOutcome
		var ids []byte
		var vv, vh *float64
		if err := rows.Scan(&o.RunID, &o.Scene, &o.Time, &ids, &vv, &vh,
			&o.ValidPixels, &o.WaterPixels, &o.Skipped, &o.Reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scene outcome")
		}
		if err := json.Unmarshal(ids, &o.ItemIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal item ids")
		}
		o.VVThreshold = ptrOrNaN(vv)
		o.VHThreshold = ptrOrNaN(vh)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scene outcomes iterate")
}

func (s *PostgresStore) GetCachedSearch(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM search_cache WHERE key = $1 AND expires_at > $2`,
		key, s.clock.Now().UTC(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get cached search")
	}
	return payload, true, nil
}

func (s *PostgresStore) SetCachedSearch(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := s.clock.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_cache (key, payload, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, payload, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached search")
}

func (s *PostgresStore) DeleteExpiredSearches(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM search_cache WHERE expires_at <= $1`,
		s.clock.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired searches")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var paramsJSON []byte
	var resultJSON *[]byte

	if err := row.Scan(&r.ID, &r.AOIPath, &r.Start, &r.End, &r.Output, &paramsJSON,
		&r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
		return nil, eris.Wrap(err, "unmarshal params")
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}

func ptrOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
