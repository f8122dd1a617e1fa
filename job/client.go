package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"snaptosize/failures"
	"snaptosize/models"
)

// Client reaches a registry owned by another process through the edge's
// internal API. Requests carry the shared runner token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Claim asks the edge to move id from queued to running.
func (c *Client) Claim(ctx context.Context, id string) (*models.Job, error) {
	j, err := c.job(ctx, "/internal/jobs/"+url.PathEscape(id)+"/claim", nil)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, failures.New(failures.KindProtocolError, "edge returned no record for claimed job %s", id)
	}
	return j, nil
}

// ClaimNext asks the edge for the oldest queued job. nil, nil means none.
func (c *Client) ClaimNext(ctx context.Context) (*models.Job, error) {
	return c.job(ctx, "/internal/jobs/next", nil)
}

// Finalize reports a terminal outcome.
func (c *Client) Finalize(ctx context.Context, id string, o models.Outcome) (*models.Job, error) {
	return c.job(ctx, "/internal/jobs/"+url.PathEscape(id)+"/finalize", o)
}

// Submit enqueues through the public API.
func (c *Client) Submit(ctx context.Context, p models.Payload) (string, error) {
	var out models.EnqueueResponse
	if _, err := c.do(ctx, http.MethodPost, "/enqueue", p, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// Poll reads a job's public status, including its download link.
func (c *Client) Poll(ctx context.Context, id string) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if _, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) job(ctx context.Context, path string, body any) (*models.Job, error) {
	var j models.Job
	ok, err := c.do(ctx, http.MethodPost, path, body, &j)
	if err != nil || !ok {
		return nil, err
	}
	return &j, nil
}

// do sends body as JSON and decodes a 2xx answer into out. It reports false
// for 204 No Content.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("edge %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode edge response: %w", err)
		}
		return true, nil
	default:
		return false, decodeError(resp)
	}
}

// decodeError turns a standardized error body back into a classified error.
func decodeError(resp *http.Response) error {
	var body failures.APIErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err == nil && len(body.Errors) > 0 {
		e := body.Errors[0]
		return failures.New(failures.Kind(e.Code), "%s", e.Detail)
	}
	return fmt.Errorf("edge returned %s", resp.Status)
}
