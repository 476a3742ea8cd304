// Package store keeps the audit trail of pipeline runs: run status, per
// project outcomes, manifest drop decisions and the dead-letter queue of
// projects to re-resolve.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Stage  model.Stage     `json:"stage,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// ProjectOutcome is what one discovery run did with one project.
type ProjectOutcome struct {
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	Created    time.Time `json:"created"`
	Files      int       `json:"files"`
	Kept       int       `json:"kept"`
	Validation int       `json:"validation"`
	Dropped    int       `json:"dropped"`
	Error      string    `json:"error,omitempty"`
}

// Store persists the run audit trail.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, stage model.Stage, params map[string]any) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Discovery audit
	SaveProjects(ctx context.Context, runID string, projects []ProjectOutcome) error
	SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) error
	ListDecisions(ctx context.Context, runID string) ([]model.Decision, error)

	// Dead letter queue, one entry per project
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	ResolveDLQ(ctx context.Context, projectIDs ...string) (int, error)
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store named by driver and migrates it. Driver "none"
// returns a Nop store.
func Open(ctx context.Context, driver, dsn string, maxConns int32) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(driver) {
	case "", "sqlite":
		s, err = NewSQLite(dsn)
	case "postgres":
		s, err = NewPostgres(ctx, dsn, &PoolConfig{MaxConns: maxConns})
	case "none":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}
