package manifest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/afpanel/internal/model"
)

func sampleManifest() *Manifest {
	return &Manifest{
		Entries: []Entry{
			{ProjectID: "project-1", FileID: "file-1", SampleID: "123456789-GM2400001", FileName: "123456789-GM2400001-1-CEN_markdup_recalibrated_Haplotyper.vcf.gz"},
			{ProjectID: "project-2", FileID: "file-9", SampleID: "X123456-24001R0001", FileName: "X123456-24001R0001-1-CEN_markdup_recalibrated_Haplotyper.vcf.gz"},
		},
		Validation: []ValidationEntry{
			{SampleID: "Q123-NA12878", ProjectID: "project-1", FileID: "file-3", FileName: "Q123-NA12878-CEN.vcf.gz"},
		},
		Decisions: []model.Decision{
			{ProjectID: "project-1", FileID: "file-2", FileName: "a.vcf.gz", SampleID: "123456789-GM2400001", Reason: model.DropDuplicate, KeptFileID: "file-1", Detail: "older"},
		},
	}
}

func TestWriteEntries_Format(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, sampleManifest().Entries))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "project_id\tfile_id\tsample_id\tfile_name", lines[0])
	assert.Equal(t, "project-1\tfile-1\t123456789-GM2400001\t123456789-GM2400001-1-CEN_markdup_recalibrated_Haplotyper.vcf.gz", lines[1])
}

func TestWriteRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := sampleManifest()

	var entries, validation, decisions bytes.Buffer
	require.NoError(t, WriteEntries(&entries, m.Entries))
	require.NoError(t, WriteValidation(&validation, m.Validation))
	require.NoError(t, WriteDecisions(&decisions, m.Decisions))

	gotEntries, err := ReadEntries(ctx, &entries)
	require.NoError(t, err)
	assert.Equal(t, m.Entries, gotEntries)

	gotValidation, err := ReadValidation(ctx, &validation)
	require.NoError(t, err)
	assert.Equal(t, m.Validation, gotValidation)

	gotDecisions, err := ReadDecisions(ctx, &decisions)
	require.NoError(t, err)
	assert.Equal(t, m.Decisions, gotDecisions)
}

func TestWrite_Deterministic(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	p1, err := Write(Layout{Dir: dir1, EntriesName: "cen.tsv"}, sampleManifest(), nil)
	require.NoError(t, err)
	p2, err := Write(Layout{Dir: dir2, EntriesName: "cen.tsv"}, sampleManifest(), nil)
	require.NoError(t, err)

	for _, pair := range [][2]string{{p1.Entries, p2.Entries}, {p1.Validation, p2.Validation}, {p1.Decisions, p2.Decisions}} {
		a, err := os.ReadFile(pair[0])
		require.NoError(t, err)
		b, err := os.ReadFile(pair[1])
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	_, err = os.Stat(p1.Meta)
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_Meta(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := &Meta{
		RunID:       "run-1",
		Assay:       "CEN",
		Start:       &start,
		GeneratedAt: start.Add(time.Hour),
		Counts:      Counts{Projects: 2, Entries: 2, Validation: 1, Dropped: 1},
		Projects:    []ProjectMeta{{ID: "project-1", Name: "002_240101_CEN38", Created: start, QCFileID: "file-qc"}},
		Skipped:     []SkippedMeta{{ID: "project-3", Name: "002_240103_CEN38", Error: "archived"}},
	}

	p, err := Write(Layout{Dir: dir, EntriesName: "cen.tsv", ValidationName: "val.tsv"}, sampleManifest(), meta)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "val.tsv"), p.Validation)
	assert.Equal(t, filepath.Join(dir, DefaultDecisionsName), p.Decisions)

	f, err := os.Open(p.Meta)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	got, err := ReadMeta(f)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, Files{Entries: "cen.tsv", Validation: "val.tsv", Decisions: DefaultDecisionsName}, got.Files)
	assert.Equal(t, 2, got.Counts.Entries)
	require.Len(t, got.Skipped, 1)
	assert.Equal(t, "project-3", got.Skipped[0].ID)
	require.NotNil(t, got.Start)
	assert.True(t, start.Equal(*got.Start))
}

func TestLoadBundle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := sampleManifest()
	meta := &Meta{RunID: "run-1", Counts: Counts{Entries: 2, Validation: 1, Dropped: 1}}
	p, err := Write(Layout{Dir: dir, EntriesName: "cen.tsv"}, m, meta)
	require.NoError(t, err)

	b, err := LoadBundle(ctx, p.Entries)
	require.NoError(t, err)
	require.NotNil(t, b.Meta)
	assert.Equal(t, "run-1", b.Meta.RunID)
	assert.Equal(t, m.Entries, b.Entries)
	assert.Equal(t, m.Validation, b.Validation)
	assert.Equal(t, m.Decisions, b.Decisions)
}

func TestLoadBundle_WithoutMeta(t *testing.T) {
	dir := t.TempDir()
	p, err := Write(Layout{Dir: dir, EntriesName: "cen.tsv"}, sampleManifest(), nil)
	require.NoError(t, err)

	b, err := LoadBundle(context.Background(), p.Entries)
	require.NoError(t, err)
	assert.Nil(t, b.Meta)
	assert.Len(t, b.Entries, 2)
	assert.Empty(t, b.Decisions)
}

func TestLoadBundle_MetaForOtherEntries(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(Layout{Dir: dir, EntriesName: "wgs.tsv"}, sampleManifest(), &Meta{Counts: Counts{Entries: 9}})
	require.NoError(t, err)
	p, err := Write(Layout{Dir: dir, EntriesName: "cen.tsv"}, sampleManifest(), nil)
	require.NoError(t, err)

	b, err := LoadBundle(context.Background(), p.Entries)
	require.NoError(t, err)
	assert.Nil(t, b.Meta)
}

func TestLoadBundle_CountMismatch(t *testing.T) {
	dir := t.TempDir()
	meta := &Meta{Counts: Counts{Entries: 2, Validation: 1, Dropped: 4}}
	p, err := Write(Layout{Dir: dir, EntriesName: "cen.tsv"}, sampleManifest(), meta)
	require.NoError(t, err)

	_, err = LoadBundle(context.Background(), p.Entries)
	assert.ErrorContains(t, err, "has 1 decisions, manifest.yaml records 4")
}

func TestWrite_RequiresEntriesName(t *testing.T) {
	_, err := Write(Layout{Dir: t.TempDir()}, sampleManifest(), nil)
	require.Error(t, err)
}

func TestReadEntries_BadHeader(t *testing.T) {
	_, err := ReadEntries(context.Background(), strings.NewReader("a\tb\tc\td\n1\t2\t3\t4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected header")
}

func TestReadEntries_Empty(t *testing.T) {
	_, err := ReadEntries(context.Background(), strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header")
}

func TestReadEntries_ShortRow(t *testing.T) {
	_, err := ReadEntries(context.Background(), strings.NewReader("project_id\tfile_id\tsample_id\tfile_name\np\tf\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 has 2 columns")
}

func TestLoad_RejectsDuplicateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.tsv")
	content := "project_id\tfile_id\tsample_id\tfile_name\n" +
		"project-1\tfile-1\tS-1\ta.vcf.gz\n" +
		"project-2\tfile-2\tS-1\tb.vcf.gz\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(context.Background(), path)
	var mie *model.ManifestIntegrityError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, "S-1", mie.SampleID)
	assert.Equal(t, []string{"project-1", "project-2"}, mie.ProjectIDs)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p, err := Write(Layout{Dir: dir, EntriesName: "cen.tsv"}, sampleManifest(), nil)
	require.NoError(t, err)

	entries, err := Load(context.Background(), p.Entries)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, []string{"123456789-GM2400001", "X123456-24001R0001"}, (&Manifest{Entries: entries}).SampleIDs())
}
