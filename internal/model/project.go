// Package model holds the domain types shared by the discovery and merge stages.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Project is a catalog container holding the artifacts of one sequencing run
// for one assay/genome-build pair.
type Project struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	RunID   string    `json:"run_id"`
	Assay   string    `json:"assay"`
	Build   string    `json:"build"`
	Created time.Time `json:"created"`
}

// NameScheme describes how project names encode run, assay and build:
// <prefix>_<run id>_<assay><build suffix>.
type NameScheme struct {
	Prefix            string
	BuildSuffix       string
	LegacyBuildSuffix string
}

// Glob returns the catalog name pattern matching current-build projects for an assay.
func (s NameScheme) Glob(assay string) string {
	return s.Prefix + "_*_" + assay + s.BuildSuffix
}

// Parse fills RunID, Assay and Build from a current-build project name.
func (s NameScheme) Parse(id, name, assay string, created time.Time) (Project, error) {
	head := s.Prefix + "_"
	tail := "_" + assay + s.BuildSuffix
	if !strings.HasPrefix(name, head) || !strings.HasSuffix(name, tail) || len(name) <= len(head)+len(tail) {
		return Project{}, eris.Errorf("model: project name %q does not match %s<run>%s", name, head, tail)
	}
	return Project{
		ID:      id,
		Name:    name,
		RunID:   name[len(head) : len(name)-len(tail)],
		Assay:   assay,
		Build:   s.BuildSuffix,
		Created: created,
	}, nil
}

// LegacyName returns the name of the legacy-build counterpart of p.
func (s NameScheme) LegacyName(p Project) string {
	return s.Prefix + "_" + p.RunID + "_" + p.Assay + s.LegacyBuildSuffix
}
