package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/inundation-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: db, clock: o.clock}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	aoi_path   TEXT NOT NULL,
	start_date DATETIME NOT NULL,
	end_date   DATETIME NOT NULL,
	output     TEXT NOT NULL,
	params     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scene_outcomes (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	scene        TEXT NOT NULL,
	acquired_at  DATETIME NOT NULL,
	item_ids     TEXT NOT NULL,
	vv_threshold REAL,
	vh_threshold REAL,
	valid_pixels INTEGER NOT NULL DEFAULT 0,
	water_pixels INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	reason       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, scene)
);

CREATE TABLE IF NOT EXISTS search_cache (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusQueued
	run.CreatedAt = s.clock.Now().UTC()
	run.UpdatedAt = run.CreatedAt

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, aoi_path, start_date, end_date, output, params, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AOIPath, run.Start.UTC(), run.End.UTC(), run.Output, string(paramsJSON),
		string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.clock.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), s.clock.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, aoi_path, start_date, end_date, output, params, status, result, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordSceneOutcomes(ctx context.Context, runID string, outcomes []model.SceneOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin scene outcomes")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scene_outcomes
		 (run_id, scene, acquired_at, item_ids, vv_threshold, vh_threshold, valid_pixels, water_pixels, skipped, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, scene) DO UPDATE SET
		   acquired_at = excluded.acquired_at, item_ids = excluded.item_ids,
		   vv_threshold = excluded.vv_threshold, vh_threshold = excluded.vh_threshold,
		   valid_pixels = excluded.valid_pixels, water_pixels = excluded.water_pixels,
		   skipped = excluded.skipped, reason = excluded.reason`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare scene outcome insert")
	}
	defer stmt.Close()

	for _, o := range outcomes {
		ids, err := json.Marshal(o.ItemIDs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal item ids")
		}
		if _, err := stmt.ExecContext(ctx,
			runID, o.Scene, o.Time.UTC(), string(ids),
			nullableFloat(o.VVThreshold), nullableFloat(o.VHThreshold),
			o.ValidPixels, o.WaterPixels, o.Skipped, o.Reason,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert scene outcome %s/%s", runID, o.Scene)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit scene outcomes")
}

func (s *SQLiteStore) ListSceneOutcomes(ctx context.Context, runID string) ([]model.SceneOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, scene, acquired_at, item_ids, vv_threshold, vh_threshold, valid_pixels, water_pixels, skipped, reason
		 FROM scene_outcomes WHERE run_id = ? ORDER BY scene`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list scene outcomes %s", runID)
	}
	defer rows.Close()

	var out []model.SceneOutcome
	for rows.Next() {
		var o model.SceneOutcome
		var ids string
		var vv, vh sql.NullFloat64
		if err := rows.Scan(&o.RunID, &o.Scene, &o.Time, &ids, &vv, &vh,
			&o.ValidPixels, &o.WaterPixels, &o.Skipped, &o.Reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scene outcome")
		}
		if err := json.Unmarshal([]byte(ids), &o.ItemIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal item ids")
		}
		o.VVThreshold = nullFloatOrNaN(vv)
		o.VHThreshold = nullFloatOrNaN(vh)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scene outcomes iterate")
}

func (s *SQLiteStore) GetCachedSearch(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM search_cache WHERE key = ? AND expires_at > ?`,
		key, s.clock.Now().Unix(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get cached search")
	}
	return payload, true, nil
}

func (s *SQLiteStore) SetCachedSearch(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_cache (key, payload, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, payload, now.Unix(), now.Add(ttl).Unix(),
	)
	return eris.Wrap(err, "sqlite: set cached search")
}

func (s *SQLiteStore) DeleteExpiredSearches(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM search_cache WHERE expires_at <= ?`,
		s.clock.Now().Unix(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired searches")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullFloatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var paramsJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.AOIPath, &r.Start, &r.End, &r.Output, &paramsJSON,
		&r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "unmarshal params")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}
