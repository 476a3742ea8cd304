// Package discovery builds the merge manifest: it locates sequencing-run
// projects, resolves each run's QC history from its legacy-build counterpart,
// classifies the run's variant files and assembles the cross-project manifest.
package discovery

import (
	"context"
	"time"

	"github.com/sells-group/afpanel/internal/resilience"
)

// Query selects the projects to scan. Zero Start or End leaves that side of
// the creation window open.
type Query struct {
	Assay string
	Start time.Time
	End   time.Time
}

// DeadLetters receives projects skipped for recoverable errors.
type DeadLetters interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}
