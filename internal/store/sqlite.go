package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	params       TEXT,
	result       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_projects (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	project_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	created     DATETIME NOT NULL,
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
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	project_id   TEXT NOT NULL UNIQUE,
	project_name TEXT NOT NULL,
	error        TEXT NOT NULL,
	error_type   TEXT NOT NULL DEFAULT 'permanent',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_stage_status ON runs(stage, status);
CREATE INDEX IF NOT EXISTS idx_decisions_sample ON decisions(sample_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, stage model.Stage, params map[string]any) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Status:    model.RunStatusRunning,
		Params:    params,
		StartedAt: time.Now().UTC(),
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, status, params, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(stage), string(run.Status), string(paramsJSON), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errorText(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, stage, status, params, result, error, started_at, completed_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// inTx runs fn with a prepared statement inside one transaction.
func (s *SQLiteStore) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	if err := fn(stmt); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) SaveProjects(ctx context.Context, runID string, projects []ProjectOutcome) error {
	if len(projects) == 0 {
		return nil
	}
	return s.inTx(ctx,
		`INSERT OR REPLACE INTO run_projects
		 (run_id, project_id, name, created, files, kept, validation, dropped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, p := range projects {
				if _, err := stmt.ExecContext(ctx, runID, p.ProjectID, p.Name, p.Created.UTC(),
					p.Files, p.Kept, p.Validation, p.Dropped, p.Error); err != nil {
					return eris.Wrapf(err, "sqlite: insert project %s", p.ProjectID)
				}
			}
			return nil
		})
}

func (s *SQLiteStore) SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	return s.inTx(ctx,
		`INSERT OR REPLACE INTO decisions
		 (run_id, project_id, file_id, file_name, sample_id, reason, kept_file_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, d := range decisions {
				if _, err := stmt.ExecContext(ctx, decisionRow(runID, d)...); err != nil {
					return eris.Wrapf(err, "sqlite: insert decision %s", d.FileID)
				}
			}
			return nil
		})
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, runID string) ([]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, file_id, file_name, sample_id, reason, kept_file_id, detail
		 FROM decisions WHERE run_id = ? ORDER BY project_id, file_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(&d.ProjectID, &d.FileID, &d.FileName, &d.SampleID, &d.Reason, &d.KeptFileID, &d.Detail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, project_id, project_name, error, error_type, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id) DO UPDATE SET
		   run_id = excluded.run_id, error = excluded.error, error_type = excluded.error_type,
		   retry_count = dead_letter_queue.retry_count + 1, created_at = excluded.created_at`,
		entry.ID, entry.RunID, entry.ProjectID, entry.ProjectName, entry.Error,
		entry.ErrorType, entry.RetryCount, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, project_id, project_name, error, error_type, retry_count, created_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at DESC, project_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.ProjectID, &e.ProjectName, &e.Error,
			&e.ErrorType, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) ResolveDLQ(ctx context.Context, projectIDs ...string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(projectIDs))
	for i, id := range projectIDs {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letter_queue WHERE project_id IN (?`+strings.Repeat(", ?", len(projectIDs)-1)+`)`,
		args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: resolve dlq")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func decisionRow(runID string, d model.Decision) []any {
	return []any{runID, d.ProjectID, d.FileID, d.FileName, d.SampleID, string(d.Reason), d.KeptFileID, d.Detail}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		r         model.Run
		params    sql.NullString
		result    sql.NullString
		completed sql.NullTime
		stage     string
		status    string
	)
	err := row.Scan(&r.ID, &stage, &status, &params, &result, &r.Error, &r.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Stage, r.Status = model.Stage(stage), model.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	if err := decodeRunJSON(&r, []byte(params.String), []byte(result.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeRunJSON(r *model.Run, params, result []byte) error {
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &r.Params); err != nil {
			return eris.Wrap(err, "store: unmarshal params")
		}
	}
	if len(result) > 0 && string(result) != "null" {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(result, r.Result); err != nil {
			return eris.Wrap(err, "store: unmarshal result")
		}
	}
	return nil
}
