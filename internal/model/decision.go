package model

// DropReason explains why a file was left out of the manifest.
type DropReason string

const (
	DropQCFailed       DropReason = "qc_failed"
	DropQCUnknown      DropReason = "qc_unknown"
	DropDuplicate      DropReason = "duplicate"
	DropUnparseable    DropReason = "unparseable_name"
	DropProjectSkipped DropReason = "project_skipped"
)

// Decision records a single drop made while building the manifest so the
// choice can be audited later.
type Decision struct {
	ProjectID  string     `json:"project_id"`
	FileID     string     `json:"file_id"`
	FileName   string     `json:"file_name"`
	SampleID   string     `json:"sample_id,omitempty"`
	Reason     DropReason `json:"reason"`
	KeptFileID string     `json:"kept_file_id,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}
