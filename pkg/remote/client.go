// Package remote talks to the metered analytical query service over its
// REST API (BigQuery jobs.query wire format).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// Service is the remote query service boundary.
type Service interface {
	// DryRun reports how many bytes the query would scan without running it.
	DryRun(ctx context.Context, query string) (int64, error)
	// Execute runs the query and returns its rows.
	Execute(ctx context.Context, query string) (*models.QueryResult, error)
}

// TokenSource supplies bearer credentials. Acquisition and refresh happen elsewhere.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("no bearer token configured")
	}
	return string(s), nil
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("remote service: %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("remote service: %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Project  string
	Location string
	// Timeout bounds each DryRun or Execute call, including polling.
	Timeout    time.Duration
	Tokens     TokenSource
	HTTPClient *http.Client
	// PollInterval is the wait between result polls for jobs that did not
	// complete within the initial request.
	PollInterval time.Duration
}

// Client implements Service against the BigQuery v2 REST API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("remote: project is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.Tokens == nil {
		return nil, errors.New("remote: token source is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{cfg: cfg, http: hc}, nil
}

type queryRequest struct {
	Query        string `json:"query"`
	UseLegacySQL bool   `json:"useLegacySql"`
	DryRun       bool   `json:"dryRun,omitempty"`
	Location     string `json:"location,omitempty"`
	TimeoutMs    int64  `json:"timeoutMs,omitempty"`
}

type queryResponse struct {
	JobReference struct {
		JobID    string `json:"jobId"`
		Location string `json:"location"`
	} `json:"jobReference"`
	Schema struct {
		Fields []models.Field `json:"fields"`
	} `json:"schema"`
	Rows []struct {
		F []struct {
			V any `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	TotalRows           string `json:"totalRows"`
	TotalBytesProcessed string `json:"totalBytesProcessed"`
	JobComplete         bool   `json:"jobComplete"`
	Errors              []struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"errors"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// DryRun implements Service.
func (c *Client) DryRun(ctx context.Context, query string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp queryResponse
	err := c.do(ctx, http.MethodPost, c.queriesURL(), queryRequest{
		Query:    query,
		DryRun:   true,
		Location: c.cfg.Location,
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("dry run: %w", err)
	}
	bytesScanned, err := parseInt(resp.TotalBytesProcessed)
	if err != nil {
		return 0, fmt.Errorf("dry run: bad totalBytesProcessed %q: %w", resp.TotalBytesProcessed, err)
	}
	return bytesScanned, nil
}

// Execute implements Service. Jobs that outlive the first response are
// polled until they complete or the timeout expires.
func (c *Client) Execute(ctx context.Context, query string) (*models.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var resp queryResponse
	err := c.do(ctx, http.MethodPost, c.queriesURL(), queryRequest{
		Query:     query,
		Location:  c.cfg.Location,
		TimeoutMs: c.cfg.Timeout.Milliseconds(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	for !resp.JobComplete {
		if resp.JobReference.JobID == "" {
			return nil, errors.New("execute: incomplete job without job reference")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("execute: waiting for job %s: %w", resp.JobReference.JobID, ctx.Err())
		case <-time.After(c.cfg.PollInterval):
		}
		next := queryResponse{}
		if err := c.do(ctx, http.MethodGet, c.resultsURL(resp.JobReference.JobID, resp.JobReference.Location), nil, &next); err != nil {
			return nil, fmt.Errorf("execute: poll job %s: %w", resp.JobReference.JobID, err)
		}
		if next.TotalBytesProcessed == "" {
			next.TotalBytesProcessed = resp.TotalBytesProcessed
		}
		next.JobReference = resp.JobReference
		resp = next
	}

	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("execute: %s: %s", resp.Errors[0].Reason, resp.Errors[0].Message)
	}
	return toResult(&resp)
}

func toResult(resp *queryResponse) (*models.QueryResult, error) {
	result := &models.QueryResult{
		Schema: resp.Schema.Fields,
		Rows:   make([]map[string]any, 0, len(resp.Rows)),
		Source: models.SourceRemote,
	}
	for i, row := range resp.Rows {
		if len(row.F) != len(resp.Schema.Fields) {
			return nil, fmt.Errorf("execute: row %d has %d cells, schema has %d fields", i, len(row.F), len(resp.Schema.Fields))
		}
		m := make(map[string]any, len(row.F))
		for j, cell := range row.F {
			m[resp.Schema.Fields[j].Name] = cell.V
		}
		result.Rows = append(result.Rows, m)
	}
	var err error
	if result.TotalRows, err = parseInt(resp.TotalRows); err != nil {
		return nil, fmt.Errorf("execute: bad totalRows %q: %w", resp.TotalRows, err)
	}
	if result.BytesProcessed, err = parseInt(resp.TotalBytesProcessed); err != nil {
		return nil, fmt.Errorf("execute: bad totalBytesProcessed %q: %w", resp.TotalBytesProcessed, err)
	}
	return result, nil
}

func (c *Client) queriesURL() string {
	return fmt.Sprintf("%s/bigquery/v2/projects/%s/queries", c.cfg.Endpoint, url.PathEscape(c.cfg.Project))
}

func (c *Client) resultsURL(jobID, location string) string {
	u := fmt.Sprintf("%s/bigquery/v2/projects/%s/queries/%s", c.cfg.Endpoint, url.PathEscape(c.cfg.Project), url.PathEscape(jobID))
	q := url.Values{}
	if location != "" {
		q.Set("location", location)
	}
	q.Set("timeoutMs", strconv.FormatInt(c.cfg.PollInterval.Milliseconds()*4, 10))
	return u + "?" + q.Encode()
}

// do sends an authenticated JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error.Message != "" {
			apiErr.Message = er.Error.Message
			apiErr.Status = er.Error.Status
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
