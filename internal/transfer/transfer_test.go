package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/afpanel/internal/catalog"
)

type fakeLinker struct {
	err error
}

func (f fakeLinker) DownloadURL(_ context.Context, projectID, fileID string) (*catalog.DownloadLink, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.DownloadLink{
		URL:     "https://dl.example.com/" + projectID + "/" + fileID,
		Headers: map[string]string{"Authorization": "Bearer t"},
	}, nil
}

type fakeFetcher struct {
	gotURL     string
	gotHeaders map[string]string
	body       string
}

func (f *fakeFetcher) Download(context.Context, string, map[string]string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeFetcher) DownloadToFile(_ context.Context, url, path string, headers map[string]string) (int64, error) {
	f.gotURL, f.gotHeaders = url, headers
	if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
		return 0, err
	}
	return int64(len(f.body)), nil
}

func TestCatalogSource_Fetch(t *testing.T) {
	ff := &fakeFetcher{body: "##fileformat=VCFv4.2\n"}
	src := NewCatalogSource(fakeLinker{}, ff)
	dest := filepath.Join(t.TempDir(), "a.vcf.gz")

	n, err := src.Fetch(context.Background(), Handle{ProjectID: "project-1", FileID: "file-9", Name: "a.vcf.gz"}, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)
	assert.Equal(t, "https://dl.example.com/project-1/file-9", ff.gotURL)
	assert.Equal(t, "Bearer t", ff.gotHeaders["Authorization"])
	assert.FileExists(t, dest)
}

func TestCatalogSource_LinkError(t *testing.T) {
	src := NewCatalogSource(fakeLinker{err: errors.New("boom")}, &fakeFetcher{})
	_, err := src.Fetch(context.Background(), Handle{FileID: "file-9"}, filepath.Join(t.TempDir(), "x"))
	assert.ErrorContains(t, err, "transfer: link file-9")
}

func TestDir_FetchProjectThenRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "project-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "project-1", "a.vcf"), []byte("in project"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.vcf"), []byte("at root"), 0o644))

	d := Dir{Root: root}
	out := t.TempDir()

	_, err := d.Fetch(context.Background(), Handle{ProjectID: "project-1", Name: "a.vcf"}, filepath.Join(out, "a.vcf"))
	require.NoError(t, err)
	data, _ := os.ReadFile(filepath.Join(out, "a.vcf"))
	assert.Equal(t, "in project", string(data))

	_, err = d.Fetch(context.Background(), Handle{ProjectID: "project-1", Name: "b.vcf"}, filepath.Join(out, "b.vcf"))
	require.NoError(t, err)
	data, _ = os.ReadFile(filepath.Join(out, "b.vcf"))
	assert.Equal(t, "at root", string(data))

	_, err = d.Fetch(context.Background(), Handle{Name: "missing.vcf"}, filepath.Join(out, "c.vcf"))
	assert.ErrorContains(t, err, "transfer: open")
}

func TestDir_Push(t *testing.T) {
	local := filepath.Join(t.TempDir(), "merged.vcf.gz")
	require.NoError(t, os.WriteFile(local, []byte("panel"), 0o644))
	root := filepath.Join(t.TempDir(), "published", "v1")

	dest, err := Dir{Root: root}.Push(context.Background(), local, "panel.vcf.gz")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "panel.vcf.gz"), dest)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left")
}

func TestDir_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dir{Root: t.TempDir()}.Push(ctx, "x", "y")
	assert.ErrorIs(t, err, context.Canceled)
}
