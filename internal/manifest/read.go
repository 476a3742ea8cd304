package manifest

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/afpanel/internal/fetcher"
	"github.com/sells-group/afpanel/internal/model"
)

// ReadEntries parses a manifest entries TSV.
func ReadEntries(ctx context.Context, r io.Reader) ([]Entry, error) {
	rows, err := readTSV(ctx, r, entryHeader)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = Entry{ProjectID: row[0], FileID: row[1], SampleID: row[2], FileName: row[3]}
	}
	return entries, nil
}

// ReadValidation parses a validation samples TSV.
func ReadValidation(ctx context.Context, r io.Reader) ([]ValidationEntry, error) {
	rows, err := readTSV(ctx, r, validationHeader)
	if err != nil {
		return nil, err
	}
	out := make([]ValidationEntry, len(rows))
	for i, row := range rows {
		out[i] = ValidationEntry{SampleID: row[0], ProjectID: row[1], FileID: row[2], FileName: row[3]}
	}
	return out, nil
}

// ReadDecisions parses a decisions TSV.
func ReadDecisions(ctx context.Context, r io.Reader) ([]model.Decision, error) {
	rows, err := readTSV(ctx, r, decisionHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.Decision, len(rows))
	for i, row := range rows {
		out[i] = model.Decision{
			ProjectID:  row[0],
			FileID:     row[1],
			FileName:   row[2],
			SampleID:   row[3],
			Reason:     model.DropReason(row[4]),
			KeptFileID: row[5],
			Detail:     row[6],
		}
	}
	return out, nil
}

// ReadMeta parses manifest.yaml.
func ReadMeta(r io.Reader) (*Meta, error) {
	var meta Meta
	if err := yaml.NewDecoder(r).Decode(&meta); err != nil {
		return nil, eris.Wrap(err, "manifest: decode meta")
	}
	return &meta, nil
}

// Load reads the entries file at path and rejects manifests that list a
// sample twice.
func Load(ctx context.Context, path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	entries, err := ReadEntries(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read %s", path)
	}
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		if prev, ok := seen[e.SampleID]; ok {
			return nil, &model.ManifestIntegrityError{SampleID: e.SampleID, ProjectIDs: []string{prev, e.ProjectID}}
		}
		seen[e.SampleID] = e.ProjectID
	}
	return entries, nil
}

// Bundle is a manifest read back together with its sidecar artifacts. Meta
// is nil when no manifest.yaml describes the entries file.
type Bundle struct {
	Manifest
	Meta *Meta
}

// LoadBundle reads the entries file at path like Load. When manifest.yaml in
// the same directory names that entries file, the validation and decisions
// files it lists are read too, and every count in the meta must match.
func LoadBundle(ctx context.Context, path string) (*Bundle, error) {
	entries, err := Load(ctx, path)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Manifest: Manifest{Entries: entries}}

	dir := filepath.Dir(path)
	f, err := os.Open(filepath.Join(dir, MetaName))
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: open %s", MetaName)
	}
	defer f.Close() //nolint:errcheck
	meta, err := ReadMeta(f)
	if err != nil {
		return nil, err
	}
	if meta.Files.Entries != filepath.Base(path) {
		return b, nil
	}
	b.Meta = meta

	if meta.Files.Validation != "" {
		if b.Validation, err = readSidecar(ctx, filepath.Join(dir, meta.Files.Validation), ReadValidation); err != nil {
			return nil, err
		}
	}
	if meta.Files.Decisions != "" {
		if b.Decisions, err = readSidecar(ctx, filepath.Join(dir, meta.Files.Decisions), ReadDecisions); err != nil {
			return nil, err
		}
	}

	for _, c := range []struct {
		what      string
		got, want int
	}{
		{"entries", len(b.Entries), meta.Counts.Entries},
		{"validation samples", len(b.Validation), meta.Counts.Validation},
		{"decisions", len(b.Decisions), meta.Counts.Dropped},
	} {
		if c.got != c.want {
			return nil, eris.Errorf("manifest: %s has %d %s, %s records %d", dir, c.got, c.what, MetaName, c.want)
		}
	}
	return b, nil
}

func readSidecar[T any](ctx context.Context, path string, read func(context.Context, io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	out, err := read(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read %s", path)
	}
	return out, nil
}

func readTSV(ctx context.Context, r io.Reader, header []string) ([][]string, error) {
	headerCh := make(chan []string, 1)
	rows, err := fetcher.ReadAllCSV(ctx, r, fetcher.CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	if err != nil {
		return nil, eris.Wrap(err, "manifest: parse tsv")
	}
	var got []string
	select {
	case got = <-headerCh:
	default:
		return nil, eris.New("manifest: missing header row")
	}
	if !slices.Equal(got, header) {
		return nil, eris.Errorf("manifest: unexpected header %v, want %v", got, header)
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, eris.Errorf("manifest: row %d has %d columns, want %d", i+2, len(row), len(header))
		}
	}
	return rows, nil
}
