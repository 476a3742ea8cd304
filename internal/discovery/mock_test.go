package discovery

import (
	"context"
	"io"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/fetcher"
	"github.com/sells-group/afpanel/internal/model"
	"github.com/sells-group/afpanel/internal/resilience"
)

var testScheme = model.NameScheme{Prefix: "002", BuildSuffix: "38", LegacyBuildSuffix: ""}

// fakeCatalog is an in-memory catalog.Catalog.
type fakeCatalog struct {
	mu         sync.Mutex
	projects   []catalog.ProjectDesc
	files      map[string][]catalog.FileDesc
	projectErr error
	fileErrs   map[string]error
	unarchived []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{files: make(map[string][]catalog.FileDesc), fileErrs: make(map[string]error)}
}

func (c *fakeCatalog) addProject(id, name string, created time.Time) {
	c.projects = append(c.projects, catalog.ProjectDesc{ID: id, Name: name, Created: created})
}

func (c *fakeCatalog) addFile(projectID, id, name string, created time.Time, state string) {
	c.files[projectID] = append(c.files[projectID], catalog.FileDesc{
		ProjectID: projectID, ID: id, Name: name, Created: created, ArchivalState: state,
	})
}

func (c *fakeCatalog) FindProjects(_ context.Context, q catalog.ProjectQuery) iter.Seq2[catalog.ProjectDesc, error] {
	return func(yield func(catalog.ProjectDesc, error) bool) {
		if c.projectErr != nil {
			yield(catalog.ProjectDesc{}, c.projectErr)
			return
		}
		for _, p := range c.projects {
			if ok, _ := path.Match(q.NameGlob, p.Name); !ok {
				continue
			}
			if !q.CreatedAfter.IsZero() && p.Created.Before(q.CreatedAfter) {
				continue
			}
			if !q.CreatedBefore.IsZero() && p.Created.After(q.CreatedBefore) {
				continue
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (c *fakeCatalog) FindFiles(_ context.Context, q catalog.FileQuery) iter.Seq2[catalog.FileDesc, error] {
	return func(yield func(catalog.FileDesc, error) bool) {
		if err := c.fileErrs[q.ProjectID]; err != nil {
			yield(catalog.FileDesc{}, err)
			return
		}
		for _, f := range c.files[q.ProjectID] {
			if ok, _ := path.Match(q.NameGlob, f.Name); !ok {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (c *fakeCatalog) DownloadURL(_ context.Context, projectID, fileID string) (*catalog.DownloadLink, error) {
	return &catalog.DownloadLink{URL: "mem://" + projectID + "/" + fileID}, nil
}

func (c *fakeCatalog) RequestUnarchive(_ context.Context, _, fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unarchived = append(c.unarchived, fileID)
	return nil
}

// fakeFetcher serves file contents keyed by download URL.
type fakeFetcher struct {
	content map[string][]byte
}

func (f *fakeFetcher) Download(_ context.Context, url string, _ map[string]string) (io.ReadCloser, error) {
	data, ok := f.content[url]
	if !ok {
		return nil, eris.Errorf("not found: %s", url)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeFetcher) DownloadToFile(ctx context.Context, url, dest string, headers map[string]string) (int64, error) {
	body, err := f.Download(ctx, url, headers)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer out.Close() //nolint:errcheck
	return io.Copy(out, body)
}

// fakeDLQ records dead letters.
type fakeDLQ struct {
	mu      sync.Mutex
	entries []resilience.DLQEntry
}

func (d *fakeDLQ) EnqueueDLQ(_ context.Context, e resilience.DLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, e)
	return nil
}

var qcHeader = []string{"Sample", "M Reads Mapped", "Contamination (S)", "% Target Bases 20X", "% Aligned", "Insert Size", "QC_status", "Reason"}

// qcWorkbook builds an XLSX workbook and returns its bytes.
func qcWorkbook(t *testing.T, sheets []string, rows map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, r := range rows[name] {
			row := sheet.AddRow()
			for _, v := range r {
				row.AddCell().SetString(v)
			}
		}
	}
	p := filepath.Join(t.TempDir(), "qc.xlsx")
	require.NoError(t, f.Save(p))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return data
}

// openQCWorkbook opens workbook bytes the way the resolver does, from disk.
func openQCWorkbook(t *testing.T, data []byte) *fetcher.Workbook {
	t.Helper()
	p := filepath.Join(t.TempDir(), "qc.xlsx")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	wb, err := fetcher.OpenXLSX(p)
	require.NoError(t, err)
	return wb
}

// qcRows builds a QC sheet with the standard header.
func qcRows(verdicts map[string]string) [][]string {
	rows := [][]string{qcHeader}
	for _, sample := range sortedKeys(verdicts) {
		rows = append(rows, []string{sample + "-1-CEN-F-EGG2", "25.1", "0.01", "99.2", "99.9", "250", verdicts[sample], ""})
	}
	return rows
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func vcfName(sample string) string {
	return sample + "-1-CEN-F-EGG2_markdup_recalibrated_Haplotyper.vcf.gz"
}
