package manifest

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/afpanel/internal/model"
)

// Paths are the artifact locations written by Write.
type Paths struct {
	Entries    string
	Validation string
	Decisions  string
	Meta       string
}

// Layout names the artifacts inside a directory.
type Layout struct {
	Dir            string
	EntriesName    string
	ValidationName string
	DecisionsName  string
}

// Paths resolves the layout to file paths.
func (l Layout) Paths() Paths {
	validation := l.ValidationName
	if validation == "" {
		validation = DefaultValidationName
	}
	decisions := l.DecisionsName
	if decisions == "" {
		decisions = DefaultDecisionsName
	}
	return Paths{
		Entries:    filepath.Join(l.Dir, l.EntriesName),
		Validation: filepath.Join(l.Dir, validation),
		Decisions:  filepath.Join(l.Dir, decisions),
		Meta:       filepath.Join(l.Dir, MetaName),
	}
}

// Write writes the manifest TSVs and, when meta is non-nil, manifest.yaml.
// Each file is written to a temporary name and renamed into place.
func Write(l Layout, m *Manifest, meta *Meta) (Paths, error) {
	if l.EntriesName == "" {
		return Paths{}, eris.New("manifest: entries file name is required")
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Paths{}, eris.Wrapf(err, "manifest: create dir %s", l.Dir)
	}
	p := l.Paths()

	if err := writeFile(p.Entries, func(w io.Writer) error { return WriteEntries(w, m.Entries) }); err != nil {
		return p, err
	}
	if err := writeFile(p.Validation, func(w io.Writer) error { return WriteValidation(w, m.Validation) }); err != nil {
		return p, err
	}
	if err := writeFile(p.Decisions, func(w io.Writer) error { return WriteDecisions(w, m.Decisions) }); err != nil {
		return p, err
	}
	if meta != nil {
		meta.Files = Files{
			Entries:    filepath.Base(p.Entries),
			Validation: filepath.Base(p.Validation),
			Decisions:  filepath.Base(p.Decisions),
		}
		if err := writeFile(p.Meta, func(w io.Writer) error { return WriteMeta(w, meta) }); err != nil {
			return p, err
		}
	}
	return p, nil
}

// WriteEntries writes merge entries as TSV.
func WriteEntries(w io.Writer, entries []Entry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.ProjectID, e.FileID, e.SampleID, e.FileName}
	}
	return writeTSV(w, entryHeader, rows)
}

// WriteValidation writes retained validation samples as TSV.
func WriteValidation(w io.Writer, entries []ValidationEntry) error {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.SampleID, e.ProjectID, e.FileID, e.FileName}
	}
	return writeTSV(w, validationHeader, rows)
}

// WriteDecisions writes the drop audit trail as TSV.
func WriteDecisions(w io.Writer, decisions []model.Decision) error {
	rows := make([][]string, len(decisions))
	for i, d := range decisions {
		rows[i] = []string{d.ProjectID, d.FileID, d.FileName, d.SampleID, string(d.Reason), d.KeptFileID, d.Detail}
	}
	return writeTSV(w, decisionHeader, rows)
}

// WriteMeta writes manifest.yaml.
func WriteMeta(w io.Writer, meta *Meta) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return eris.Wrap(err, "manifest: encode meta")
	}
	return eris.Wrap(enc.Close(), "manifest: close meta encoder")
}

func writeTSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "manifest: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "manifest: write rows")
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "manifest: create %s", path)
	}
	err = fn(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "manifest: write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "manifest: rename %s", path)
	}
	return nil
}
