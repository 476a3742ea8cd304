package model

import (
	"errors"
	"fmt"
)

// DiscoveryError means the catalog could not be queried. Nothing downstream
// of a failed query is trustworthy, so it aborts the discovery run.
type DiscoveryError struct {
	Op        string
	ProjectID string
	Err       error
}

func (e *DiscoveryError) Error() string {
	if e.ProjectID != "" {
		return fmt.Sprintf("discovery: %s (project %s): %v", e.Op, e.ProjectID, e.Err)
	}
	return fmt.Sprintf("discovery: %s: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// QcResolutionError means one project's QC history is unavailable or
// unparseable. The project is skipped; the run continues.
type QcResolutionError struct {
	ProjectID       string
	LegacyProjectID string
	FileID          string
	Err             error
}

func (e *QcResolutionError) Error() string {
	return fmt.Sprintf("qc resolution: project %s (legacy %s, file %s): %v",
		e.ProjectID, orNone(e.LegacyProjectID), orNone(e.FileID), e.Err)
}

func (e *QcResolutionError) Unwrap() error { return e.Err }

// ManifestIntegrityError means the same sample identifier was found in more
// than one project. It needs a human to resolve.
type ManifestIntegrityError struct {
	SampleID   string
	ProjectIDs []string
}

func (e *ManifestIntegrityError) Error() string {
	return fmt.Sprintf("manifest integrity: sample %s appears in projects %v", e.SampleID, e.ProjectIDs)
}

// MergeConflictError means two inputs disagree on a record that should be
// identical after normalization against a shared reference.
type MergeConflictError struct {
	Contig  string
	Pos     int
	Samples []string
	Alleles []string
	Reason  string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %s:%d: %s (samples %v, alleles %v)",
		e.Contig, e.Pos, e.Reason, e.Samples, e.Alleles)
}

// SortCorruptionError means the sorted output contains a contig unknown to
// the reference or out of reference order.
type SortCorruptionError struct {
	Contig   string
	Pos      int
	Previous string
	Reason   string
}

func (e *SortCorruptionError) Error() string {
	if e.Previous != "" {
		return fmt.Sprintf("sort corruption at %s:%d (after %s): %s", e.Contig, e.Pos, e.Previous, e.Reason)
	}
	return fmt.Sprintf("sort corruption at %s:%d: %s", e.Contig, e.Pos, e.Reason)
}

// IsFatal reports whether err must abort the whole run. Only QC resolution
// failures are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var qe *QcResolutionError
	return !errors.As(err, &qe)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
