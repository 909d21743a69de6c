// Package ga is a client for the Google Analytics Reporting API v4 batchGet
// endpoint. It authenticates with a service-account key, pages through report
// responses, and retries transient failures.
package ga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/tidemarkhq/gastitch/pkg/daterange"
	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/plan"
	"github.com/tidemarkhq/gastitch/pkg/retry"
	"github.com/tidemarkhq/gastitch/pkg/schema"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

const (
	batchGetPath = "/v4/reports:batchGet"

	// metricUsers is requested with every report; the API requires at least
	// one metric even though only dimension values are consumed.
	metricUsers = "ga:users"

	// DefaultRequestsPerSecond paces requests under the reporting API's
	// per-view quota.
	DefaultRequestsPerSecond = 5

	defaultRequestTimeout = 60 * time.Second
)

type Config struct {
	Logger *slog.Logger

	// Endpoint is the API base URL, without the batchGet path.
	Endpoint string

	// KeyFile is the path to the service-account JSON key.
	KeyFile string

	Scopes   []string
	ViewID   string
	PageSize int

	RequestsPerSecond float64
	RequestTimeout    time.Duration
	Retry             retry.Config

	// HTTPClient overrides the authenticated client; used by tests.
	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.ViewID == "" {
		return fmt.Errorf("view ID is required")
	}
	if c.KeyFile == "" && c.HTTPClient == nil {
		return fmt.Errorf("key file is required")
	}
	if c.Endpoint == "" {
		c.Endpoint = schema.DefaultEndpoint
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{schema.DefaultScope}
	}
	if c.PageSize <= 0 {
		c.PageSize = schema.DefaultPageSize
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client downloads reports for planned batches.
type Client struct {
	cfg     *Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(key, cfg.Scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account key: %w", err)
		}
		httpClient = jwtCfg.Client(context.Background())
		httpClient.Timeout = cfg.RequestTimeout
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// Fetch downloads the full report for one batch, following pagination until
// the API stops returning a next page token.
func (c *Client) Fetch(ctx context.Context, spec plan.BatchSpec, r daterange.Range, filter string) ([]stitch.Row, error) {
	clause, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		rows      []stitch.Row
		pageToken string
		pages     int
	)
	for {
		page, err := c.getReport(ctx, spec, r, clause, pageToken)
		if err != nil {
			metrics.ReportRequestsTotal.WithLabelValues(spec.Label(), "error").Inc()
			return nil, err
		}
		metrics.ReportRequestsTotal.WithLabelValues(spec.Label(), "success").Inc()
		pages++
		rows = append(rows, page.rows...)

		if page.nextPageToken == "" {
			break
		}
		pageToken = page.nextPageToken
		c.cfg.Logger.Debug("Fetching next report page", "batch", spec.Label(), "page_token", pageToken, "rows", len(rows))
	}

	metrics.ReportPagesTotal.WithLabelValues(spec.Label()).Add(float64(pages))
	metrics.RowsFetchedTotal.WithLabelValues(spec.Label()).Add(float64(len(rows)))
	metrics.FetchDuration.WithLabelValues(spec.Label()).Observe(time.Since(start).Seconds())

	c.cfg.Logger.Debug("Fetched batch", "batch", spec.Label(), "rows", len(rows), "pages", pages,
		"duration", time.Since(start))
	return rows, nil
}

type reportPage struct {
	rows          []stitch.Row
	nextPageToken string
}

func (c *Client) getReport(ctx context.Context, spec plan.BatchSpec, r daterange.Range, clause *FilterClause, pageToken string) (*reportPage, error) {
	req := reportRequest{
		ViewID:     c.cfg.ViewID,
		PageSize:   c.cfg.PageSize,
		PageToken:  pageToken,
		Metrics:    []wireMetric{{Expression: metricUsers}},
		DateRanges: []wireDateRange{{StartDate: r.StartDate(), EndDate: r.EndDate()}},
	}
	for _, name := range spec.Names() {
		req.Dimensions = append(req.Dimensions, wireDimension{Name: name})
	}
	if clause != nil {
		req.DimensionFilterClauses = []FilterClause{*clause}
	}

	body, err := json.Marshal(batchGetRequest{ReportRequests: []reportRequest{req}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var page *reportPage
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var reqErr error
		page, reqErr = c.doRequest(ctx, body)
		return reqErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s report: %w", spec.Label(), err)
	}
	return page, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*reportPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+batchGetPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var batchResp batchGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return pageFromResponse(&batchResp), nil
}

// pageFromResponse flattens a batchGet response into rows keyed by dimension
// name. Dimension values are reduced to ASCII.
func pageFromResponse(resp *batchGetResponse) *reportPage {
	page := &reportPage{}
	for _, rep := range resp.Reports {
		dims := rep.ColumnHeader.Dimensions
		page.nextPageToken = rep.NextPageToken
		for _, raw := range rep.Data.Rows {
			row := make(stitch.Row, len(dims))
			for i, name := range dims {
				if i < len(raw.Dimensions) {
					row[name] = stripNonASCII(raw.Dimensions[i])
				}
			}
			page.rows = append(page.rows, row)
		}
	}
	return page
}

// httpError carries the response status for retry classification.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("unexpected status code: %d: %s", e.status, e.body)
	}
	return fmt.Sprintf("unexpected status code: %d", e.status)
}

func (e *httpError) StatusCode() int { return e.status }

// stripNonASCII removes non-ASCII characters from a dimension value.
func stripNonASCII(s string) string {
	if isASCII(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
