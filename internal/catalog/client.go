package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/afpanel/internal/fetcher"
	"github.com/sells-group/afpanel/internal/resilience"
)

const defaultBaseURL = "https://api.dnanexus.com"

// APIError is returned when the catalog responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("catalog: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("catalog: HTTP %d: %s", e.StatusCode, e.Message)
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := max(int(perSec), 1)
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithRetry replaces the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithPageSize sets the page size requested from find endpoints.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithCircuitBreaker replaces the circuit breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// Client implements Catalog over HTTP.
type Client struct {
	token    string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	pageSize int
	log      *zap.Logger
}

var _ Catalog = (*Client)(nil)

// NewClient creates a catalog client authenticating with a bearer token.
func NewClient(token string, opts ...Option) *Client {
	log := zap.L().With(zap.String("component", "catalog"))
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("catalog", "request")
	c := &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				log.Warn("catalog circuit state changed",
					zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
		pageSize: 1000,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindProjects implements Catalog.
func (c *Client) FindProjects(ctx context.Context, q ProjectQuery) iter.Seq2[ProjectDesc, error] {
	return func(yield func(ProjectDesc, error) bool) {
		req := findProjectsRequest{
			Name:     globFilter{Glob: q.NameGlob},
			Describe: describeFields{Fields: map[string]bool{"name": true, "created": true}},
			Limit:    c.pageSize,
		}
		if !q.CreatedAfter.IsZero() || !q.CreatedBefore.IsZero() {
			req.Created = &createdFilter{After: millis(q.CreatedAfter), Before: millis(q.CreatedBefore)}
		}

		for {
			var resp findProjectsResponse
			if err := c.post(ctx, "/system/findProjects", req, &resp); err != nil {
				yield(ProjectDesc{}, eris.Wrap(err, "catalog: find projects"))
				return
			}
			for _, r := range resp.Results {
				p := ProjectDesc{
					ID:      r.ID,
					Name:    r.Describe.Name,
					Created: fromMillis(r.Describe.Created),
				}
				if !yield(p, nil) {
					return
				}
			}
			if !hasNext(resp.Next) {
				return
			}
			req.Starting = resp.Next
		}
	}
}

// FindFiles implements Catalog.
func (c *Client) FindFiles(ctx context.Context, q FileQuery) iter.Seq2[FileDesc, error] {
	return func(yield func(FileDesc, error) bool) {
		req := findDataObjectsRequest{
			Class:    "file",
			Scope:    scopeFilter{Project: q.ProjectID, Folder: "/", Recurse: true},
			Name:     globFilter{Glob: q.NameGlob},
			Describe: describeFields{Fields: map[string]bool{"name": true, "created": true, "archivalState": true}},
			Limit:    c.pageSize,
		}

		for {
			var resp findDataObjectsResponse
			if err := c.post(ctx, "/system/findDataObjects", req, &resp); err != nil {
				yield(FileDesc{}, eris.Wrapf(err, "catalog: find files in %s", q.ProjectID))
				return
			}
			for _, r := range resp.Results {
				f := FileDesc{
					ProjectID:     r.Project,
					ID:            r.ID,
					Name:          r.Describe.Name,
					Created:       fromMillis(r.Describe.Created),
					ArchivalState: r.Describe.ArchivalState,
				}
				if f.ProjectID == "" {
					f.ProjectID = q.ProjectID
				}
				if !yield(f, nil) {
					return
				}
			}
			if !hasNext(resp.Next) {
				return
			}
			req.Starting = resp.Next
		}
	}
}

// DownloadURL implements Catalog.
func (c *Client) DownloadURL(ctx context.Context, projectID, fileID string) (*DownloadLink, error) {
	var link DownloadLink
	path := "/" + url.PathEscape(fileID) + "/download"
	if err := c.post(ctx, path, projectScoped{Project: projectID}, &link); err != nil {
		return nil, eris.Wrapf(err, "catalog: download link for %s", fileID)
	}
	if link.URL == "" {
		return nil, eris.Errorf("catalog: empty download link for %s", fileID)
	}
	return &link, nil
}

// RequestUnarchive implements Catalog.
func (c *Client) RequestUnarchive(ctx context.Context, projectID, fileID string) error {
	var out json.RawMessage
	path := "/" + url.PathEscape(fileID) + "/unarchive"
	if err := c.post(ctx, path, projectScoped{Project: projectID}, &out); err != nil {
		return eris.Wrapf(err, "catalog: unarchive %s", fileID)
	}
	c.log.Info("requested unarchive",
		zap.String("project_id", projectID), zap.String("file_id", fileID))
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	_, err = resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, resilience.Do(ctx, c.retry, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "rate limiter wait")
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
			if err != nil {
				return eris.Wrap(err, "create request")
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.token)
			return c.do(req, out)
		})
	})
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		if body, err := fetcher.DecodeJSONObject[apiErrorBody](bytes.NewReader(data)); err == nil && body.Error.Type != "" {
			apiErr.Type = body.Error.Type
			apiErr.Message = body.Error.Message
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
