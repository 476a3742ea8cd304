package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// QCVerdict is the outcome recorded for a sample in a QC status artifact.
type QCVerdict string

const (
	QCPass    QCVerdict = "pass"
	QCFail    QCVerdict = "fail"
	QCUnknown QCVerdict = "unknown"
)

var fold = cases.Fold()

// ParseVerdict maps a QC status cell to a verdict. Anything that is not
// PASS or FAIL (case-insensitive) is unknown.
func ParseVerdict(s string) QCVerdict {
	switch fold.String(strings.TrimSpace(s)) {
	case "pass":
		return QCPass
	case "fail":
		return QCFail
	default:
		return QCUnknown
	}
}

// QCStatusRecord is one sample row of a QC status artifact.
type QCStatusRecord struct {
	SampleID string    `json:"sample_id"`
	Verdict  QCVerdict `json:"verdict"`
	Reason   string    `json:"reason,omitempty"`
	Created  time.Time `json:"created"`
}

// QCArtifact describes a QC status file stored in a legacy project.
type QCArtifact struct {
	ProjectID     string    `json:"project_id"`
	FileID        string    `json:"file_id"`
	Name          string    `json:"name"`
	Created       time.Time `json:"created"`
	ArchivalState string    `json:"archival_state,omitempty"`
}

// QCTable maps sample identifiers to their authoritative verdict. A nil
// table means no QC history exists and every lookup is unknown.
type QCTable map[string]QCVerdict

// Verdict returns the verdict for a sample, or QCUnknown when absent.
func (t QCTable) Verdict(sampleID string) QCVerdict {
	if v, ok := t[sampleID]; ok {
		return v
	}
	return QCUnknown
}

// Passed reports whether the sample's last known verdict is pass.
func (t QCTable) Passed(sampleID string) bool {
	return t.Verdict(sampleID) == QCPass
}
