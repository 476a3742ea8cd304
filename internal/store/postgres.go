package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/afpanel/internal/db"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/resilience"
)

// PostgresStore implements Store using pgxpool. It lets several discovery
// hosts share one audit trail.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection and executed by name.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, stage, status, params, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_run": `UPDATE runs SET status = $1, result = $2, completed_at = $3 WHERE id = $4`,
	"fail_run":     `UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
	"get_run":      `SELECT ` + runColumns + ` FROM runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(4), int32(1)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	params       JSONB,
	result       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_projects (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	project_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	created     TIMESTAMPTZ NOT NULL,
	files       INTEGER NOT NULL DEFAULT 0,
	kept        INTEGER NOT NULL DEFAULT 0,
	validation  INTEGER NOT NULL DEFAULT 0,
	dropped     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, project_id)
);

CREATE TABLE IF NOT EXISTS decisions (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	project_id   TEXT NOT NULL,
	file_id      TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	sample_id    TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL,
	kept_file_id TEXT NOT NULL DEFAULT '',
	detail       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, file_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL,
	project_id   TEXT NOT NULL UNIQUE,
	project_name TEXT NOT NULL,
	error        TEXT NOT NULL,
	error_type   TEXT NOT NULL DEFAULT 'permanent',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_stage_status ON runs(stage, status);
CREATE INDEX IF NOT EXISTS idx_decisions_sample ON decisions(sample_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

var projectColumns = []string{"run_id", "project_id", "name", "created", "files", "kept", "validation", "dropped", "error"}

var decisionsUpsert = db.UpsertConfig{
	Table:        "decisions",
	Columns:      []string{"run_id", "project_id", "file_id", "file_name", "sample_id", "reason", "kept_file_id", "detail"},
	ConflictKeys: []string{"run_id", "file_id"},
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

func (s *PostgresStore) CreateRun(ctx context.Context, stage model.Stage, params map[string]any) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Status:    model.RunStatusRunning,
		Params:    params,
		StartedAt: time.Now().UTC(),
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}
	_, err = s.pool.Exec(ctx,
		"insert_run",
		run.ID, string(stage), string(run.Status), paramsJSON, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	tag, err := s.pool.Exec(ctx,
		"complete_run",
		string(model.RunStatusComplete), resultJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		"fail_run",
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, "get_run", runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		query += fmt.Sprintf(` AND stage = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveProjects writes a run's project outcomes with COPY. A run's projects
// are written once, at the end of discovery.
func (s *PostgresStore) SaveProjects(ctx context.Context, runID string, projects []ProjectOutcome) error {
	rows := make([][]any, len(projects))
	for i, p := range projects {
		rows[i] = []any{runID, p.ProjectID, p.Name, p.Created.UTC(), p.Files, p.Kept, p.Validation, p.Dropped, p.Error}
	}
	_, err := db.CopyFrom(ctx, s.pool, "run_projects", projectColumns, rows)
	return eris.Wrap(err, "postgres: save projects")
}

func (s *PostgresStore) SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) error {
	rows := make([][]any, len(decisions))
	for i, d := range decisions {
		rows[i] = decisionRow(runID, d)
	}
	_, err := db.BulkUpsert(ctx, s.pool, decisionsUpsert, rows)
	return eris.Wrap(err, "postgres: save decisions")
}

func (s *PostgresStore) ListDecisions(ctx context.Context, runID string) ([]model.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, file_id, file_name, sample_id, reason, kept_file_id, detail
		 FROM decisions WHERE run_id = $1 ORDER BY project_id, file_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var d model.Decision
		var reason string
		if err := rows.Scan(&d.ProjectID, &d.FileID, &d.FileName, &d.SampleID, &reason, &d.KeptFileID, &d.Detail); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		d.Reason = model.DropReason(reason)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, project_id, project_name, error, error_type, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id) DO UPDATE SET
		   run_id = EXCLUDED.run_id, error = EXCLUDED.error, error_type = EXCLUDED.error_type,
		   retry_count = dead_letter_queue.retry_count + 1, created_at = EXCLUDED.created_at`,
		entry.ID, entry.RunID, entry.ProjectID, entry.ProjectName, entry.Error,
		entry.ErrorType, entry.RetryCount, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, project_id, project_name, error, error_type, retry_count, created_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	if filter.ErrorType != "" {
		args = append(args, filter.ErrorType)
		query += fmt.Sprintf(` AND error_type = $%d`, len(args))
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, project_id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.ProjectID, &e.ProjectName, &e.Error,
			&e.ErrorType, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) ResolveDLQ(ctx context.Context, projectIDs ...string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE project_id = ANY($1)`, projectIDs)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: resolve dlq")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var (
		r              model.Run
		stage, status  string
		params, result []byte
	)
	if err := row.Scan(&r.ID, &stage, &status, &params, &result, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.Stage, r.Status = model.Stage(stage), model.RunStatus(status)
	if err := decodeRunJSON(&r, params, result); err != nil {
		return nil, err
	}
	return &r, nil
}
