package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// StatusError is returned for non-2xx provider responses. Callers that
// need to distinguish upstream failure modes match it with errors.As.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// Client talks to the remote statistics API. All calls honor the passed
// context and additionally enforce a per-request deadline, closing the
// timeout gap the orchestration layer deliberately leaves open.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a provider client. timeout <= 0 falls back to 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// AgencyRecords performs the existing-data probe: GET /agencies/{id}.
// A non-empty result means data is already persisted for the scope.
func (c *Client) AgencyRecords(ctx context.Context, scopeKey string) ([]AgencyRecord, error) {
	var records []AgencyRecord
	err := c.do(ctx, http.MethodGet, "/agencies/"+url.PathEscape(scopeKey), nil, &records)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FetchCrimes issues one acquisition request: POST /crimes/fetch/{scopeKey}.
// The sequencer sends exactly one offense code per call.
func (c *Client) FetchCrimes(ctx context.Context, scopeKey string, req FetchRequest) (*FetchResponse, error) {
	var resp FetchResponse
	err := c.do(ctx, http.MethodPost, "/crimes/fetch/"+url.PathEscape(scopeKey), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueJob enqueues an async batch enrichment job: POST /jobs/queue.
// Fire-and-forget — the returned job ID is informational only.
func (c *Client) QueueJob(ctx context.Context, jobType, countyID string) (string, error) {
	var resp QueueJobResponse
	err := c.do(ctx, http.MethodPost, "/jobs/queue", QueueJobRequest{JobType: jobType, CountyID: countyID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Aggregations fetches a precomputed yearly series:
// GET /stats/aggregations/{level}/{scopeKey}.
func (c *Client) Aggregations(ctx context.Context, level, scopeKey string) (*AggregationSnapshot, error) {
	var snap AggregationSnapshot
	path := "/stats/aggregations/" + url.PathEscape(level) + "/" + url.PathEscape(scopeKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
