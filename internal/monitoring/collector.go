package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/store"
)

// SkippedProject is a project discovery left out for a recoverable error.
type SkippedProject struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// RunSnapshot is the state of a finished run plus the audit context an
// alert needs.
type RunSnapshot struct {
	RunID   string           `json:"run_id"`
	Stage   model.Stage      `json:"stage"`
	Status  model.RunStatus  `json:"status"`
	Error   string           `json:"error,omitempty"`
	Result  *model.RunResult `json:"result,omitempty"`
	Skipped []SkippedProject `json:"skipped,omitempty"`

	// RecentFailures counts failed runs of the same stage among the most
	// recent recentWindow runs, this one included.
	RecentFailures int `json:"recent_failures"`
	DLQDepth       int `json:"dlq_depth"`

	CollectedAt time.Time `json:"collected_at"`
}

const recentWindow = 10

// AuditReader is the part of store.Store the collector reads.
type AuditReader interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers run context from the audit store.
type Collector struct {
	store AuditReader
}

// NewCollector creates a new collector.
func NewCollector(st AuditReader) *Collector {
	return &Collector{store: st}
}

// Collect builds the snapshot for run.
func (c *Collector) Collect(ctx context.Context, run *model.Run, skipped []SkippedProject) (*RunSnapshot, error) {
	snap := &RunSnapshot{
		RunID:       run.ID,
		Stage:       run.Stage,
		Status:      run.Status,
		Error:       run.Error,
		Result:      run.Result,
		Skipped:     skipped,
		CollectedAt: time.Now().UTC(),
	}

	recent, err := c.store.ListRuns(ctx, store.RunFilter{Stage: run.Stage, Limit: recentWindow})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	seen := false
	for _, r := range recent {
		if r.ID == run.ID {
			seen = true
		}
		if r.Status == model.RunStatusFailed {
			snap.RecentFailures++
		}
	}
	// The store may not have recorded the run (driver "none").
	if !seen && run.Status == model.RunStatusFailed {
		snap.RecentFailures++
	}

	depth, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = depth

	return snap, nil
}
