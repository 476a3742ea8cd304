package model

import (
	"strings"
	"time"
)

// Classification tags a variant file as a control/validation sample or a
// cohort sample eligible for the reference panel.
type Classification string

const (
	ClassValidation    Classification = "validation"
	ClassNonValidation Classification = "non-validation"
)

// VariantFile is a single-sample variant call artifact in a project.
type VariantFile struct {
	ProjectID      string         `json:"project_id"`
	FileID         string         `json:"file_id"`
	Name           string         `json:"name"`
	SampleID       string         `json:"sample_id"`
	Instrument     string         `json:"instrument,omitempty"`
	Specimen       string         `json:"specimen,omitempty"`
	Created        time.Time      `json:"created"`
	Classification Classification `json:"classification,omitempty"`
}

// ParseSampleName splits a variant file name into its instrument and
// specimen fields. The sample identifier is "<instrument>-<specimen>".
func ParseSampleName(fileName string) (instrument, specimen string, ok bool) {
	parts := strings.SplitN(fileName, "-", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// SampleKey truncates a QC sheet sample name to the identifier used in file names.
func SampleKey(name string) string {
	parts := strings.SplitN(strings.TrimSpace(name), "-", 3)
	if len(parts) < 2 {
		return strings.TrimSpace(name)
	}
	return parts[0] + "-" + parts[1]
}
