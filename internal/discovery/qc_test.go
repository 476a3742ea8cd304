package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/model"
)

func testProject() model.Project {
	return model.Project{ID: "project-a", Name: "002_240101_CEN38", RunID: "240101", Assay: "CEN", Build: "38", Created: day(1)}
}

func TestSelectArtifact(t *testing.T) {
	arts := []model.QCArtifact{
		{FileID: "file-1", Created: day(2)},
		{FileID: "file-3", Created: day(3)},
		{FileID: "file-2", Created: day(3)},
	}
	got, ok := SelectArtifact(arts, nil)
	require.True(t, ok)
	assert.Equal(t, "file-3", got.FileID)

	oldest := func(a, b model.QCArtifact) int { return -LatestArtifact(a, b) }
	got, ok = SelectArtifact(arts, oldest)
	require.True(t, ok)
	assert.Equal(t, "file-1", got.FileID)

	_, ok = SelectArtifact(nil, nil)
	assert.False(t, ok)
}

func TestBuildQCTable(t *testing.T) {
	table := BuildQCTable([]model.QCStatusRecord{
		{SampleID: "A-1", Verdict: model.QCPass},
		{SampleID: "A-1", Verdict: model.QCFail},
		{SampleID: "A-1", Verdict: model.QCPass},
		{SampleID: "B-1", Verdict: model.QCUnknown},
		{SampleID: "B-1", Verdict: model.QCPass},
		{SampleID: "C-1", Verdict: model.QCPass},
		{SampleID: "C-1", Verdict: model.QCUnknown},
	})
	assert.Equal(t, model.QCTable{"A-1": model.QCFail, "B-1": model.QCPass, "C-1": model.QCPass}, table)
}

func TestParseQCWorkbook_FirstSheet(t *testing.T) {
	data := qcWorkbook(t, []string{"Sheet1"}, map[string][][]string{
		"Sheet1": {
			qcHeader,
			{"123456789-GM2400001-1-CEN", "25", "0.01", "99", "99", "250", "PASS", ""},
			{"123456789-GM2400002-1-CEN", "25", "0.2", "99", "99", "250", "fail", "contaminated"},
			{"", "", "", "", "", "", "", ""},
			{"123456789-GM2400003-1-CEN", "25"},
		},
	})
	wb := openQCWorkbook(t, data)

	recs, err := ParseQCWorkbook(wb, "Sheet2", day(5))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, model.QCStatusRecord{SampleID: "123456789-GM2400001", Verdict: model.QCPass, Created: day(5)}, recs[0])
	assert.Equal(t, model.QCFail, recs[1].Verdict)
	assert.Equal(t, "contaminated", recs[1].Reason)
	assert.Equal(t, model.QCUnknown, recs[2].Verdict)
}

func TestParseQCWorkbook_FallbackSheet(t *testing.T) {
	data := qcWorkbook(t, []string{"Summary", "Sheet2"}, map[string][][]string{
		"Summary": {{"Run", "Date"}, {"240101", "2024-01-01"}},
		"Sheet2":  qcRows(map[string]string{"123456789-GM2400001": "PASS"}),
	})
	wb := openQCWorkbook(t, data)

	recs, err := ParseQCWorkbook(wb, "Sheet2", day(5))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "123456789-GM2400001", recs[0].SampleID)
}

func TestParseQCWorkbook_NoLayout(t *testing.T) {
	data := qcWorkbook(t, []string{"Summary"}, map[string][][]string{
		"Summary": {{"Run", "Date"}},
	})
	wb := openQCWorkbook(t, data)

	_, err := ParseQCWorkbook(wb, "Sheet2", day(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no QC_status column")
	assert.Contains(t, err.Error(), "sheets [Summary]")
}

func newResolverWorld(t *testing.T) (*fakeCatalog, *fakeFetcher) {
	t.Helper()
	cat := newFakeCatalog()
	cat.addProject("project-a", "002_240101_CEN38", day(1))
	cat.addProject("legacy-a", "002_240101_CEN", day(1))
	cat.addFile("legacy-a", "qc-a1", "240101_QC_status.xlsx", day(2), catalog.ArchivalLive)
	cat.addFile("legacy-a", "qc-a2", "240101_QC_status_v2.xlsx", day(3), catalog.ArchivalLive)
	cat.addFile("legacy-a", "other", "notes.txt", day(9), catalog.ArchivalLive)

	f := &fakeFetcher{content: map[string][]byte{
		"mem://legacy-a/qc-a1": qcWorkbook(t, []string{"Sheet1"}, map[string][][]string{
			"Sheet1": qcRows(map[string]string{"123456789-GM2400001": "FAIL"}),
		}),
		"mem://legacy-a/qc-a2": qcWorkbook(t, []string{"Sheet1"}, map[string][][]string{
			"Sheet1": qcRows(map[string]string{"123456789-GM2400001": "PASS", "123456789-GM2400002": "FAIL"}),
		}),
	}}
	return cat, f
}

func TestQCResolver_UsesLatestArtifact(t *testing.T) {
	cat, f := newResolverWorld(t)
	r := NewQCResolver(cat, f, testScheme, QCResolverOptions{TempDir: t.TempDir()})

	res, err := r.Resolve(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, "legacy-a", res.LegacyProjectID)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, "qc-a2", res.Artifact.FileID)
	assert.Equal(t, model.QCTable{"123456789-GM2400001": model.QCPass, "123456789-GM2400002": model.QCFail}, res.Table)
}

func TestQCResolver_NoLegacyProject(t *testing.T) {
	cat := newFakeCatalog()
	r := NewQCResolver(cat, &fakeFetcher{}, testScheme, QCResolverOptions{TempDir: t.TempDir()})

	res, err := r.Resolve(context.Background(), testProject())
	require.NoError(t, err)
	assert.Nil(t, res.Artifact)
	assert.Empty(t, res.Table)
	assert.Equal(t, model.QCUnknown, res.Table.Verdict("123456789-GM2400001"))
}

func TestQCResolver_NoArtifacts(t *testing.T) {
	cat := newFakeCatalog()
	cat.addProject("legacy-a", "002_240101_CEN", day(1))
	r := NewQCResolver(cat, &fakeFetcher{}, testScheme, QCResolverOptions{TempDir: t.TempDir()})

	res, err := r.Resolve(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, "legacy-a", res.LegacyProjectID)
	assert.Nil(t, res.Artifact)
	assert.Empty(t, res.Table)
}

func TestQCResolver_Archived(t *testing.T) {
	cat := newFakeCatalog()
	cat.addProject("legacy-a", "002_240101_CEN", day(1))
	cat.addFile("legacy-a", "qc-a1", "240101_QC_status.xlsx", day(2), catalog.ArchivalArchived)

	r := NewQCResolver(cat, &fakeFetcher{}, testScheme, QCResolverOptions{TempDir: t.TempDir(), RequestUnarchive: true})
	_, err := r.Resolve(context.Background(), testProject())

	var qe *model.QcResolutionError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "project-a", qe.ProjectID)
	assert.Equal(t, "legacy-a", qe.LegacyProjectID)
	assert.Equal(t, "qc-a1", qe.FileID)
	assert.Contains(t, err.Error(), "archived")
	assert.Equal(t, []string{"qc-a1"}, cat.unarchived)
	assert.False(t, model.IsFatal(err))
}

func TestQCResolver_Unparseable(t *testing.T) {
	cat := newFakeCatalog()
	cat.addProject("legacy-a", "002_240101_CEN", day(1))
	cat.addFile("legacy-a", "qc-a1", "240101_QC_status.xlsx", day(2), catalog.ArchivalLive)
	f := &fakeFetcher{content: map[string][]byte{"mem://legacy-a/qc-a1": []byte("not a workbook")}}

	r := NewQCResolver(cat, f, testScheme, QCResolverOptions{TempDir: t.TempDir()})
	_, err := r.Resolve(context.Background(), testProject())

	var qe *model.QcResolutionError
	require.ErrorAs(t, err, &qe)
	assert.Empty(t, cat.unarchived)
}

func TestQCResolver_ListingFailureIsFatal(t *testing.T) {
	cat := newFakeCatalog()
	cat.projectErr = assert.AnError

	r := NewQCResolver(cat, &fakeFetcher{}, testScheme, QCResolverOptions{TempDir: t.TempDir()})
	_, err := r.Resolve(context.Background(), testProject())

	var de *model.DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "project-a", de.ProjectID)
	assert.True(t, model.IsFatal(err))
}
