// Package transfer moves variant files between remote storage and the
// local work directory of the merge stage.
package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/afpanel/internal/catalog"
	"github.com/sells-group/afpanel/internal/fetcher"
)

// Handle names a remote file.
type Handle struct {
	ProjectID string
	FileID    string
	Name      string
}

// Source fetches remote files to local paths.
type Source interface {
	Fetch(ctx context.Context, h Handle, dest string) (int64, error)
}

// Sink stores local files remotely and returns the remote handle.
type Sink interface {
	Push(ctx context.Context, local, name string) (string, error)
}

// Linker resolves a file to a download link.
type Linker interface {
	DownloadURL(ctx context.Context, projectID, fileID string) (*catalog.DownloadLink, error)
}

// CatalogSource downloads files through catalog download links.
type CatalogSource struct {
	cat Linker
	f   fetcher.Fetcher
}

// NewCatalogSource returns a Source backed by the catalog.
func NewCatalogSource(cat Linker, f fetcher.Fetcher) *CatalogSource {
	return &CatalogSource{cat: cat, f: f}
}

// Fetch implements Source.
func (s *CatalogSource) Fetch(ctx context.Context, h Handle, dest string) (int64, error) {
	link, err := s.cat.DownloadURL(ctx, h.ProjectID, h.FileID)
	if err != nil {
		return 0, eris.Wrapf(err, "transfer: link %s", h.FileID)
	}
	n, err := s.f.DownloadToFile(ctx, link.URL, dest, link.Headers)
	if err != nil {
		return 0, eris.Wrapf(err, "transfer: fetch %s", h.FileID)
	}
	zap.L().Debug("fetched file",
		zap.String("project_id", h.ProjectID),
		zap.String("file_id", h.FileID),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// Dir is a Source and Sink over a local or mounted directory. Fetch looks
// for <root>/<project>/<name>, then <root>/<name>.
type Dir struct {
	Root string
}

// Fetch implements Source.
func (d Dir) Fetch(ctx context.Context, h Handle, dest string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	src := filepath.Join(d.Root, h.ProjectID, h.Name)
	if _, err := os.Stat(src); err != nil {
		src = filepath.Join(d.Root, h.Name)
	}
	return copyFile(src, dest)
}

// Push implements Sink.
func (d Dir) Push(ctx context.Context, local, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(d.Root, name)
	if _, err := copyFile(local, dest); err != nil {
		return "", err
	}
	zap.L().Info("published file", zap.String("path", dest))
	return dest, nil
}

// copyFile copies src to dest through a temporary file in dest's directory.
func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, eris.Wrapf(err, "transfer: open %s", src)
	}
	defer in.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrapf(err, "transfer: mkdir %s", filepath.Dir(dest))
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".transfer-*")
	if err != nil {
		return 0, eris.Wrap(err, "transfer: create temp")
	}
	n, err := io.Copy(tmp, in)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, eris.Wrapf(err, "transfer: copy %s", src)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, eris.Wrapf(err, "transfer: rename to %s", dest)
	}
	return n, nil
}
