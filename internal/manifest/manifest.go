// Package manifest reads and writes the hand-off artifacts between the
// discovery and merge stages. All files are tab-separated with a header row
// so they diff cleanly and can be inspected before a merge is started.
package manifest

import (
	"time"

	"github.com/sells-group/afpanel/internal/model"
)

// Default artifact names.
const (
	DefaultValidationName = "validation_samples.tsv"
	DefaultDecisionsName  = "decisions.tsv"
	MetaName              = "manifest.yaml"
)

var (
	entryHeader      = []string{"project_id", "file_id", "sample_id", "file_name"}
	validationHeader = []string{"sample_id", "project_id", "file_id", "file_name"}
	decisionHeader   = []string{"project_id", "file_id", "file_name", "sample_id", "reason", "kept_file_id", "detail"}
)

// Entry is one file to merge.
type Entry struct {
	ProjectID string `json:"project_id"`
	FileID    string `json:"file_id"`
	SampleID  string `json:"sample_id"`
	FileName  string `json:"file_name"`
}

// ValidationEntry is a retained validation sample, kept for traceability.
type ValidationEntry struct {
	SampleID  string `json:"sample_id"`
	ProjectID string `json:"project_id"`
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
}

// Manifest is the output of the discovery stage.
type Manifest struct {
	Entries    []Entry
	Validation []ValidationEntry
	Decisions  []model.Decision
}

// SampleIDs returns entry sample identifiers in manifest order.
func (m *Manifest) SampleIDs() []string {
	ids := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		ids[i] = e.SampleID
	}
	return ids
}

// Meta describes how a manifest was produced. It is written next to the TSV
// files as manifest.yaml.
type Meta struct {
	RunID       string          `yaml:"run_id"`
	Assay       string          `yaml:"assay"`
	Start       *time.Time      `yaml:"start,omitempty"`
	End         *time.Time      `yaml:"end,omitempty"`
	GeneratedAt time.Time       `yaml:"generated_at"`
	Files       Files           `yaml:"files"`
	Counts      Counts          `yaml:"counts"`
	Projects    []ProjectMeta   `yaml:"projects"`
	Skipped     []SkippedMeta   `yaml:"skipped_projects,omitempty"`
	Duplicates  []DuplicateMeta `yaml:"duplicates,omitempty"`
}

// Files names the TSV artifacts relative to the manifest directory.
type Files struct {
	Entries    string `yaml:"entries"`
	Validation string `yaml:"validation"`
	Decisions  string `yaml:"decisions"`
}

// Counts summarizes the manifest contents.
type Counts struct {
	Projects   int `yaml:"projects"`
	Skipped    int `yaml:"skipped"`
	Entries    int `yaml:"entries"`
	Validation int `yaml:"validation"`
	Dropped    int `yaml:"dropped"`
}

// ProjectMeta records a located project and the QC artifact used for it.
type ProjectMeta struct {
	ID              string    `yaml:"id"`
	Name            string    `yaml:"name"`
	Created         time.Time `yaml:"created"`
	LegacyProjectID string    `yaml:"legacy_project_id,omitempty"`
	QCFileID        string    `yaml:"qc_file_id,omitempty"`
	QCFileName      string    `yaml:"qc_file_name,omitempty"`
}

// SkippedMeta records a project left out because its QC could not be resolved.
type SkippedMeta struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Error string `yaml:"error"`
}

// DuplicateMeta records a sample sequenced more than once in one project.
type DuplicateMeta struct {
	ProjectID string `yaml:"project_id"`
	SampleID  string `yaml:"sample_id"`
	Files     int    `yaml:"files"`
}
