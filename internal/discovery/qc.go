package discovery

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/fetcher"
	"github.com/sells-group/afpanel/internal/model"
)

// qcColumns is the leading column layout of a QC status sheet.
var qcColumns = []string{
	"Sample", "M Reads Mapped", "Contamination (S)", "% Target Bases 20X",
	"% Aligned", "Insert Size", "QC_status", "Reason",
}

const (
	qcSampleCol = 0
	qcStatusCol = 6
	qcReasonCol = 7
)

// ArtifactPreference orders two QC artifacts; the greater one is authoritative.
type ArtifactPreference func(a, b model.QCArtifact) int

// LatestArtifact prefers the most recently created artifact, breaking ties
// by the lexicographically largest file ID.
func LatestArtifact(a, b model.QCArtifact) int {
	if c := a.Created.Compare(b.Created); c != 0 {
		return c
	}
	return strings.Compare(a.FileID, b.FileID)
}

// SelectArtifact returns the preferred artifact, or false when there are none.
func SelectArtifact(artifacts []model.QCArtifact, prefer ArtifactPreference) (model.QCArtifact, bool) {
	if len(artifacts) == 0 {
		return model.QCArtifact{}, false
	}
	if prefer == nil {
		prefer = LatestArtifact
	}
	return slices.MaxFunc(artifacts, prefer), true
}

// QCResult is the resolved QC history of one project.
type QCResult struct {
	LegacyProjectID string
	Artifact        *model.QCArtifact
	Records         []model.QCStatusRecord
	Table           model.QCTable
}

// QCResolverOptions configures a QCResolver.
type QCResolverOptions struct {
	Glob             string
	FallbackSheet    string
	TempDir          string
	RequestUnarchive bool
	Prefer           ArtifactPreference
}

// QCResolver loads the authoritative QC status table for a project from its
// legacy-build counterpart.
type QCResolver struct {
	cat    catalog.Catalog
	fetch  fetcher.Fetcher
	scheme model.NameScheme
	opts   QCResolverOptions
}

// NewQCResolver creates a QCResolver.
func NewQCResolver(cat catalog.Catalog, f fetcher.Fetcher, scheme model.NameScheme, opts QCResolverOptions) *QCResolver {
	if opts.Glob == "" {
		opts.Glob = "*QC*.xlsx"
	}
	if opts.FallbackSheet == "" {
		opts.FallbackSheet = "Sheet2"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Prefer == nil {
		opts.Prefer = LatestArtifact
	}
	return &QCResolver{cat: cat, fetch: f, scheme: scheme, opts: opts}
}

// Resolve returns the QC table for p. A project with no legacy counterpart
// or no QC artifacts resolves to an empty table, so every sample is unknown.
// Listing failures return *model.DiscoveryError; an artifact that cannot be
// read returns *model.QcResolutionError.
func (r *QCResolver) Resolve(ctx context.Context, p model.Project) (*QCResult, error) {
	log := zap.L().With(zap.String("component", "qc"), zap.String("project_id", p.ID))

	legacy, err := r.findLegacy(ctx, p)
	if err != nil {
		return nil, &model.DiscoveryError{Op: "find legacy project", ProjectID: p.ID, Err: err}
	}
	if legacy == nil {
		log.Warn("no legacy project found, all samples unknown",
			zap.String("legacy_name", r.scheme.LegacyName(p)))
		return &QCResult{Table: model.QCTable{}}, nil
	}

	var artifacts []model.QCArtifact
	live := make(map[string]bool)
	for f, err := range r.cat.FindFiles(ctx, catalog.FileQuery{ProjectID: legacy.ID, NameGlob: r.opts.Glob}) {
		if err != nil {
			return nil, &model.DiscoveryError{Op: "find qc artifacts", ProjectID: p.ID, Err: err}
		}
		artifacts = append(artifacts, model.QCArtifact{
			ProjectID:     legacy.ID,
			FileID:        f.ID,
			Name:          f.Name,
			Created:       f.Created,
			ArchivalState: f.ArchivalState,
		})
		live[f.ID] = f.Live()
	}

	res := &QCResult{LegacyProjectID: legacy.ID, Table: model.QCTable{}}
	art, ok := SelectArtifact(artifacts, r.opts.Prefer)
	if !ok {
		log.Warn("no qc artifacts in legacy project, all samples unknown",
			zap.String("legacy_project_id", legacy.ID))
		return res, nil
	}
	if len(artifacts) > 1 {
		log.Info("multiple qc artifacts, using preferred",
			zap.Int("count", len(artifacts)), zap.String("file_id", art.FileID), zap.Time("created", art.Created))
	}
	res.Artifact = &art

	qcErr := func(err error) error {
		return &model.QcResolutionError{ProjectID: p.ID, LegacyProjectID: legacy.ID, FileID: art.FileID, Err: err}
	}

	if !live[art.FileID] {
		if r.opts.RequestUnarchive {
			if err := r.cat.RequestUnarchive(ctx, legacy.ID, art.FileID); err != nil {
				log.Warn("unarchive request failed", zap.String("file_id", art.FileID), zap.Error(err))
			}
		}
		return nil, qcErr(eris.Errorf("qc artifact %s is %s", art.Name, art.ArchivalState))
	}

	wb, err := r.download(ctx, art)
	if err != nil {
		return nil, qcErr(err)
	}
	records, err := ParseQCWorkbook(wb, r.opts.FallbackSheet, art.Created)
	if err != nil {
		return nil, qcErr(err)
	}
	res.Records = records
	res.Table = BuildQCTable(records)
	log.Debug("qc resolved", zap.String("file_id", art.FileID), zap.Int("samples", len(res.Table)))
	return res, nil
}

func (r *QCResolver) findLegacy(ctx context.Context, p model.Project) (*catalog.ProjectDesc, error) {
	name := r.scheme.LegacyName(p)
	var found []catalog.ProjectDesc
	for desc, err := range r.cat.FindProjects(ctx, catalog.ProjectQuery{NameGlob: name}) {
		if err != nil {
			return nil, err
		}
		if desc.Name == name {
			found = append(found, desc)
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	latest := slices.MaxFunc(found, func(a, b catalog.ProjectDesc) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return &latest, nil
}

func (r *QCResolver) download(ctx context.Context, art model.QCArtifact) (*fetcher.Workbook, error) {
	link, err := r.cat.DownloadURL(ctx, art.ProjectID, art.FileID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(r.opts.TempDir, art.ProjectID, art.FileID+".xlsx")
	if _, err := r.fetch.DownloadToFile(ctx, link.URL, path, link.Headers); err != nil {
		return nil, err
	}
	defer os.Remove(path) //nolint:errcheck
	return fetcher.OpenXLSX(path)
}

// ParseQCWorkbook reads QC status rows from the first sheet, falling back to
// the named sheet when the first sheet does not have the QC column layout.
func ParseQCWorkbook(wb *fetcher.Workbook, fallbackSheet string, created time.Time) ([]model.QCStatusRecord, error) {
	rows, err := wb.Rows(fetcher.XLSXOptions{MaxCols: len(qcColumns)})
	if err != nil {
		return nil, err
	}
	if !hasQCLayout(rows) {
		rows, err = wb.Rows(fetcher.XLSXOptions{SheetName: fallbackSheet, MaxCols: len(qcColumns)})
		if err != nil {
			return nil, eris.Wrapf(err, "qc: first sheet has no QC_status column (sheets %v)", wb.SheetNames())
		}
		if !hasQCLayout(rows) {
			return nil, eris.Errorf("qc: no QC_status column in first sheet or %q", fallbackSheet)
		}
	}

	var records []model.QCStatusRecord
	for _, row := range rows[1:] {
		if len(row) <= qcSampleCol || strings.TrimSpace(row[qcSampleCol]) == "" {
			continue
		}
		rec := model.QCStatusRecord{
			SampleID: model.SampleKey(row[qcSampleCol]),
			Verdict:  model.QCUnknown,
			Created:  created,
		}
		if len(row) > qcStatusCol {
			rec.Verdict = model.ParseVerdict(row[qcStatusCol])
		}
		if len(row) > qcReasonCol {
			rec.Reason = strings.TrimSpace(row[qcReasonCol])
		}
		records = append(records, rec)
	}
	return records, nil
}

func hasQCLayout(rows [][]string) bool {
	if len(rows) == 0 || len(rows[0]) <= qcStatusCol {
		return false
	}
	h := strings.ReplaceAll(strings.TrimSpace(rows[0][qcStatusCol]), " ", "_")
	return strings.EqualFold(h, qcColumns[qcStatusCol])
}

// BuildQCTable folds records into one verdict per sample. A fail on any row
// wins; otherwise a pass beats unknown.
func BuildQCTable(records []model.QCStatusRecord) model.QCTable {
	t := make(model.QCTable, len(records))
	for _, rec := range records {
		switch prev, ok := t[rec.SampleID]; {
		case !ok:
			t[rec.SampleID] = rec.Verdict
		case prev == model.QCFail:
		case rec.Verdict == model.QCFail || rec.Verdict == model.QCPass:
			t[rec.SampleID] = rec.Verdict
		}
	}
	return t
}
