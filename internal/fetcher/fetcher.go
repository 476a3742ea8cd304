// Package fetcher downloads remote artifacts and parses the tabular formats
// the pipeline exchanges: XLSX QC workbooks, TSV manifests and JSON bodies.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string, headers map[string]string) (int64, error)
}
