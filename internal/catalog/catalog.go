// Package catalog is a client for the remote project catalog: a JSON-over-HTTP
// API in the style of the DNAnexus platform that lists projects, finds files
// inside them and issues download links.
package catalog

import (
	"context"
	"encoding/json"
	"iter"
	"time"
)

// Archival states reported for files.
const (
	ArchivalLive      = "live"
	ArchivalArchived  = "archived"
	ArchivalArchiving = "archival"
	ArchivalUnarchive = "unarchiving"
)

// Catalog defines the remote catalog operations used by discovery and transfer.
type Catalog interface {
	// FindProjects lazily lists projects matching q. Pages are requested as
	// the sequence is consumed.
	FindProjects(ctx context.Context, q ProjectQuery) iter.Seq2[ProjectDesc, error]

	// FindFiles lazily lists files inside a project.
	FindFiles(ctx context.Context, q FileQuery) iter.Seq2[FileDesc, error]

	// DownloadURL returns a pre-authorized link for a file.
	DownloadURL(ctx context.Context, projectID, fileID string) (*DownloadLink, error)

	// RequestUnarchive asks the catalog to restore an archived file.
	RequestUnarchive(ctx context.Context, projectID, fileID string) error
}

// ProjectQuery selects projects by name glob and creation window. Zero times
// leave that side of the window open.
type ProjectQuery struct {
	NameGlob      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// ProjectDesc describes a project returned by the catalog.
type ProjectDesc struct {
	ID      string
	Name    string
	Created time.Time
}

// FileQuery selects files in one project by name glob.
type FileQuery struct {
	ProjectID string
	NameGlob  string
}

// FileDesc describes a file returned by the catalog.
type FileDesc struct {
	ProjectID     string
	ID            string
	Name          string
	Created       time.Time
	ArchivalState string
}

// Live reports whether the file content can be downloaded right now.
func (f FileDesc) Live() bool {
	return f.ArchivalState == "" || f.ArchivalState == ArchivalLive
}

// DownloadLink is a URL plus the headers that must accompany the GET.
type DownloadLink struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Wire types.

type globFilter struct {
	Glob string `json:"glob"`
}

type createdFilter struct {
	After  int64 `json:"after,omitempty"`
	Before int64 `json:"before,omitempty"`
}

type findProjectsRequest struct {
	Name     globFilter      `json:"name"`
	Created  *createdFilter  `json:"created,omitempty"`
	Describe describeFields  `json:"describe"`
	Limit    int             `json:"limit,omitempty"`
	Starting json.RawMessage `json:"starting,omitempty"`
}

type scopeFilter struct {
	Project string `json:"project"`
	Folder  string `json:"folder,omitempty"`
	Recurse bool   `json:"recurse"`
}

type findDataObjectsRequest struct {
	Class    string          `json:"class"`
	Scope    scopeFilter     `json:"scope"`
	Name     globFilter      `json:"name"`
	Describe describeFields  `json:"describe"`
	Limit    int             `json:"limit,omitempty"`
	Starting json.RawMessage `json:"starting,omitempty"`
}

type describeFields struct {
	Fields map[string]bool `json:"fields"`
}

type projectDescribe struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

type findProjectsResponse struct {
	Results []struct {
		ID       string          `json:"id"`
		Describe projectDescribe `json:"describe"`
	} `json:"results"`
	Next json.RawMessage `json:"next"`
}

type fileDescribe struct {
	Name          string `json:"name"`
	Created       int64  `json:"created"`
	ArchivalState string `json:"archivalState"`
}

type findDataObjectsResponse struct {
	Results []struct {
		Project  string       `json:"project"`
		ID       string       `json:"id"`
		Describe fileDescribe `json:"describe"`
	} `json:"results"`
	Next json.RawMessage `json:"next"`
}

type projectScoped struct {
	Project string `json:"project"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// hasNext reports whether a pagination cursor is present.
func hasNext(next json.RawMessage) bool {
	return len(next) > 0 && string(next) != "null"
}
