package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/resilience"
)

// Nop is a Store that records nothing. CreateRun still issues run IDs.
type Nop struct{}

var _ Store = Nop{}

func (Nop) CreateRun(_ context.Context, stage model.Stage, params map[string]any) (*model.Run, error) {
	return &model.Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Status:    model.RunStatusRunning,
		Params:    params,
		StartedAt: time.Now().UTC(),
	}, nil
}

func (Nop) CompleteRun(context.Context, string, *model.RunResult) error { return nil }
func (Nop) FailRun(context.Context, string, error) error                { return nil }
func (Nop) GetRun(_ context.Context, id string) (*model.Run, error) {
	return nil, notFound("run", id)
}
func (Nop) ListRuns(context.Context, RunFilter) ([]model.Run, error)        { return nil, nil }
func (Nop) SaveProjects(context.Context, string, []ProjectOutcome) error    { return nil }
func (Nop) SaveDecisions(context.Context, string, []model.Decision) error   { return nil }
func (Nop) ListDecisions(context.Context, string) ([]model.Decision, error) { return nil, nil }
func (Nop) EnqueueDLQ(context.Context, resilience.DLQEntry) error           { return nil }
func (Nop) ListDLQ(context.Context, resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return nil, nil
}
func (Nop) ResolveDLQ(context.Context, ...string) (int, error) { return 0, nil }
func (Nop) CountDLQ(context.Context) (int, error)              { return 0, nil }
func (Nop) Migrate(context.Context) error                      { return nil }
func (Nop) Close() error                                       { return nil }
