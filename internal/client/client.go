// Package client provides a REST client for the datafuse server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/datafuse-go/internal/service"
)

// Client talks to the datafuse HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Job mirrors the server's job status payload.
type Job struct {
	ID          string                `json:"job_id"`
	Status      service.JobStatus     `json:"status"`
	Progress    int                   `json:"progress"`
	Total       int                   `json:"total"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Error       string                `json:"error,omitempty"`
	Result      *service.FuseResponse `json:"result,omitempty"`
}

// Health mirrors the server's health payload.
type Health struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	AutoBackend bool   `json:"auto_backend"`
}

// New creates a client.
// If baseURL is empty, uses DFML_SERVER_URL env var or defaults to localhost:8080.
// Timeout can be configured via DFML_CLIENT_TIMEOUT env var (default 10m, fusion
// runs can be long). A bearer token is taken from DFML_CLIENT_TOKEN.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("DFML_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := 10 * time.Minute
	if t := os.Getenv("DFML_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		token:   os.Getenv("DFML_CLIENT_TOKEN"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fuse runs a synchronous fusion.
func (c *Client) Fuse(ctx context.Context, req *service.FuseRequest) (*service.FuseResponse, error) {
	var resp service.FuseResponse
	if err := c.do(ctx, http.MethodPost, "/v1/fuse", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FuseAsync submits a fusion job and returns its initial state.
func (c *Client) FuseAsync(ctx context.Context, req *service.FuseRequest) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/v1/fuse/async", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches the state of one job. Returns nil for unknown IDs.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/v1/fuse/async/"+id, nil, &job)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches all known jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// APIError is a non-2xx server response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
