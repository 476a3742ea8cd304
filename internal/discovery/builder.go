package discovery

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/afpanel/internal/manifest"
	"github.com/sells-group/afpanel/internal/model"
)

// ProjectResult is everything discovery learned about one project.
type ProjectResult struct {
	Project    model.Project
	Files      []model.VariantFile
	QC         *QCResult
	Classified *Classified
	// Err is set when the project was skipped for a recoverable error.
	Err error
}

// Skipped reports whether the project was left out of the manifest.
func (r ProjectResult) Skipped() bool {
	return r.Err != nil
}

type verdictSource struct {
	verdict   model.QCVerdict
	projectID string
}

// Build assembles the manifest from per-project results. It must see every
// project at once: a sample kept in two projects is a
// *model.ManifestIntegrityError, and a sample that failed QC in any project
// is dropped even when a later QC passed it.
func Build(results []ProjectResult) (*manifest.Manifest, error) {
	results = sortedResults(results)
	failed := failedSamples(results)

	index := make(map[string][]model.VariantFile)
	for _, r := range results {
		if r.Skipped() || r.Classified == nil {
			continue
		}
		for _, f := range r.Classified.Kept {
			index[f.SampleID] = append(index[f.SampleID], f)
		}
	}

	m := &manifest.Manifest{}
	var late []model.Decision
	for _, id := range sortedKeys(index) {
		files := index[id]
		if len(files) > 1 {
			projects := make([]string, len(files))
			for i, f := range files {
				projects[i] = f.ProjectID
			}
			return nil, &model.ManifestIntegrityError{SampleID: id, ProjectIDs: projects}
		}
		f := files[0]
		if projects, ok := failed[id]; ok {
			late = append(late, model.Decision{
				ProjectID: f.ProjectID, FileID: f.FileID, FileName: f.Name, SampleID: id,
				Reason: model.DropQCFailed,
				Detail: "failed QC in project " + strings.Join(projects, ","),
			})
		}
	}

	dropped := make(map[string]bool, len(late))
	for _, d := range late {
		dropped[d.FileID] = true
	}

	for _, r := range results {
		if r.Skipped() {
			m.Decisions = append(m.Decisions, skippedDecisions(r)...)
			continue
		}
		if r.Classified == nil {
			continue
		}
		for _, f := range bySampleID(r.Classified.Kept) {
			if dropped[f.FileID] {
				continue
			}
			m.Entries = append(m.Entries, manifest.Entry{
				ProjectID: f.ProjectID, FileID: f.FileID, SampleID: f.SampleID, FileName: f.Name,
			})
		}
		for _, f := range bySampleID(r.Classified.Validation) {
			m.Validation = append(m.Validation, manifest.ValidationEntry{
				SampleID: f.SampleID, ProjectID: f.ProjectID, FileID: f.FileID, FileName: f.Name,
			})
		}
		m.Decisions = append(m.Decisions, r.Classified.Decisions...)
	}
	m.Decisions = append(m.Decisions, late...)
	return m, nil
}

// failedSamples returns, per sample, the projects whose QC table marks it
// failed. Skipped projects do not count.
func failedSamples(results []ProjectResult) map[string][]string {
	out := make(map[string][]string)
	for _, r := range results {
		if r.Skipped() || r.QC == nil {
			continue
		}
		for id, v := range r.QC.Table {
			if v == model.QCFail {
				out[id] = append(out[id], r.Project.ID)
			}
		}
	}
	return out
}

func skippedDecisions(r ProjectResult) []model.Decision {
	files := slices.Clone(r.Files)
	slices.SortFunc(files, func(a, b model.VariantFile) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.FileID, b.FileID))
	})
	out := make([]model.Decision, 0, len(files))
	for _, f := range files {
		d := model.Decision{
			ProjectID: r.Project.ID, FileID: f.FileID, FileName: f.Name,
			Reason: model.DropProjectSkipped, Detail: r.Err.Error(),
		}
		if inst, specimen, ok := model.ParseSampleName(f.Name); ok {
			d.SampleID = inst + "-" + specimen
		}
		out = append(out, d)
	}
	return out
}

func sortedResults(results []ProjectResult) []ProjectResult {
	results = slices.Clone(results)
	slices.SortFunc(results, func(a, b ProjectResult) int {
		return cmp.Or(a.Project.Created.Compare(b.Project.Created), strings.Compare(a.Project.ID, b.Project.ID))
	})
	return results
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func bySampleID(files []model.VariantFile) []model.VariantFile {
	files = slices.Clone(files)
	slices.SortStableFunc(files, func(a, b model.VariantFile) int {
		return cmp.Or(strings.Compare(a.SampleID, b.SampleID), strings.Compare(a.FileID, b.FileID))
	})
	return files
}
