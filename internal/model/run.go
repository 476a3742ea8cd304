package model

import "time"

// RunStatus represents the current state of a discovery or merge run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Stage identifies which half of the pipeline a run belongs to.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageMerge    Stage = "merge"
)

// Run is one audited execution of a pipeline stage.
type Run struct {
	ID          string         `json:"id"`
	Stage       Stage          `json:"stage"`
	Status      RunStatus      `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	Result      *RunResult     `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunResult summarizes the outcome of a completed run.
type RunResult struct {
	Projects        int    `json:"projects,omitempty"`
	SkippedProjects int    `json:"skipped_projects,omitempty"`
	Entries         int    `json:"entries,omitempty"`
	Validation      int    `json:"validation,omitempty"`
	Dropped         int    `json:"dropped,omitempty"`
	Samples         int    `json:"samples,omitempty"`
	Records         int64  `json:"records,omitempty"`
	Output          string `json:"output,omitempty"`
}
