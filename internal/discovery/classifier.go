package discovery

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/model"
)

// FilePreference orders two files carrying the same sample; the greater one
// is kept.
type FilePreference func(a, b model.VariantFile) int

// MostRecentFile keeps the most recently created file, breaking ties by the
// lexicographically largest file ID.
func MostRecentFile(a, b model.VariantFile) int {
	if c := a.Created.Compare(b.Created); c != 0 {
		return c
	}
	return strings.Compare(a.FileID, b.FileID)
}

// Classified is the classifier output for one project.
type Classified struct {
	Validation []model.VariantFile
	Kept       []model.VariantFile
	Decisions  []model.Decision
	// Duplicates maps sample IDs seen more than once to their file count.
	Duplicates map[string]int
}

// Classifier splits a project's variant files into validation and cohort
// samples, applies the QC filter and removes duplicate samples.
type Classifier struct {
	instrument []*regexp.Regexp
	specimen   []*regexp.Regexp
	prefer     FilePreference
}

// NewClassifier compiles the cohort naming patterns. A file is non-validation
// when its instrument field matches any instrument pattern and its specimen
// field matches any specimen pattern.
func NewClassifier(instrumentPatterns, specimenPatterns []string, prefer FilePreference) (*Classifier, error) {
	inst, err := compileAll(instrumentPatterns)
	if err != nil {
		return nil, eris.Wrap(err, "classifier: instrument patterns")
	}
	spc, err := compileAll(specimenPatterns)
	if err != nil {
		return nil, eris.Wrap(err, "classifier: specimen patterns")
	}
	if prefer == nil {
		prefer = MostRecentFile
	}
	return &Classifier{instrument: inst, specimen: spc, prefer: prefer}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "compile %q", p)
		}
		out = append(out, re)
	}
	return out, nil
}

// Tag parses a file name and returns its sample fields and classification.
func (c *Classifier) Tag(name string) (instrument, specimen string, class model.Classification, ok bool) {
	instrument, specimen, ok = model.ParseSampleName(name)
	if !ok {
		return "", "", "", false
	}
	if anyMatch(c.instrument, instrument) && anyMatch(c.specimen, specimen) {
		return instrument, specimen, model.ClassNonValidation, true
	}
	return instrument, specimen, model.ClassValidation, true
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Classify is pure: it performs no I/O and returns the same result for the
// same inputs regardless of file order.
func (c *Classifier) Classify(p model.Project, files []model.VariantFile, qc model.QCTable) *Classified {
	log := zap.L().With(zap.String("component", "classifier"), zap.String("project_id", p.ID))
	out := &Classified{}

	files = slices.Clone(files)
	slices.SortFunc(files, func(a, b model.VariantFile) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.FileID, b.FileID))
	})

	bySample := make(map[string][]model.VariantFile)
	for _, f := range files {
		inst, spc, class, ok := c.Tag(f.Name)
		if !ok {
			out.Decisions = append(out.Decisions, model.Decision{
				ProjectID: p.ID, FileID: f.FileID, FileName: f.Name,
				Reason: model.DropUnparseable,
			})
			log.Info("dropping file with unparseable name", zap.String("file_id", f.FileID), zap.String("file_name", f.Name))
			continue
		}
		f.ProjectID = p.ID
		f.Instrument, f.Specimen = inst, spc
		f.SampleID = inst + "-" + spc
		f.Classification = class

		if class == model.ClassValidation {
			out.Validation = append(out.Validation, f)
			continue
		}

		switch v := qc.Verdict(f.SampleID); v {
		case model.QCPass:
			bySample[f.SampleID] = append(bySample[f.SampleID], f)
		default:
			reason := model.DropQCFailed
			if v == model.QCUnknown {
				reason = model.DropQCUnknown
			}
			out.Decisions = append(out.Decisions, model.Decision{
				ProjectID: p.ID, FileID: f.FileID, FileName: f.Name, SampleID: f.SampleID,
				Reason: reason, Detail: fmt.Sprintf("verdict %s", v),
			})
			log.Info("dropping sample without qc pass",
				zap.String("sample_id", f.SampleID), zap.String("file_id", f.FileID), zap.String("verdict", string(v)))
		}
	}

	for _, id := range sortedKeys(bySample) {
		group := bySample[id]
		keep := slices.MaxFunc(group, c.prefer)
		out.Kept = append(out.Kept, keep)
		if len(group) == 1 {
			continue
		}
		if out.Duplicates == nil {
			out.Duplicates = make(map[string]int)
		}
		out.Duplicates[id] = len(group)
		log.Warn("sample duplicated in run", zap.String("sample_id", id), zap.Int("files", len(group)))
		for _, f := range group {
			if f.FileID == keep.FileID {
				continue
			}
			out.Decisions = append(out.Decisions, model.Decision{
				ProjectID: p.ID, FileID: f.FileID, FileName: f.Name, SampleID: id,
				Reason: model.DropDuplicate, KeptFileID: keep.FileID,
				Detail: fmt.Sprintf("kept file created %s", keep.Created.UTC().Format("2006-01-02T15:04:05Z")),
			})
			log.Info("dropping duplicate sample file",
				zap.String("sample_id", id), zap.String("file_id", f.FileID),
				zap.String("file_name", f.Name), zap.String("kept_file_id", keep.FileID))
		}
	}

	slices.SortFunc(out.Validation, func(a, b model.VariantFile) int {
		return cmp.Or(strings.Compare(a.SampleID, b.SampleID), strings.Compare(a.FileID, b.FileID))
	})
	return out
}
