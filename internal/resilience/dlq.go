package resilience

import (
	"time"
)

// DLQEntry records a project skipped during discovery so it can be
// re-resolved later without repeating the whole run.
type DLQEntry struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
	Error       string    `json:"error"`
	ErrorType   string    `json:"error_type"` // "transient" or "permanent"
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
