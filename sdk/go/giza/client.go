// Package giza provides a thin HTTP client for the agent daemon's REST API.
package giza

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the agent daemon REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// TaskSubmission represents the payload required to create a new task.
type TaskSubmission struct {
	ID           string         `json:"id,omitempty"`
	Shape        []int          `json:"shape"`
	Input        []float64      `json:"input"`
	VaultAction  string         `json:"vault_action,omitempty"`
	VaultAddress string         `json:"vault_address,omitempty"`
	Amount       float64        `json:"amount,omitempty"`
	Slippage     float64        `json:"slippage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TaskResult mirrors the execution result attached to a completed task.
type TaskResult struct {
	RequestID    string `json:"request_id"`
	ProofID      string `json:"proof_id,omitempty"`
	Verified     bool   `json:"verified"`
	Output       string `json:"output,omitempty"`
	TxHash       string `json:"tx_hash,omitempty"`
	ChainID      string `json:"chain_id,omitempty"`
	BlockNumber  string `json:"block_number,omitempty"`
	Observations string `json:"observations,omitempty"`
}

// Task contains the server-side view of a submitted task.
type Task struct {
	ID           string      `json:"id"`
	Shape        []int       `json:"shape"`
	Input        []float64   `json:"input"`
	VaultAction  string      `json:"vault_action,omitempty"`
	VaultAddress string      `json:"vault_address,omitempty"`
	Status       string      `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxRetries   int         `json:"max_retries"`
	LastError    string      `json:"last_error,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	Result       *TaskResult `json:"result,omitempty"`
	CreatedAt    int64       `json:"created_at"`
	UpdatedAt    int64       `json:"updated_at"`
}

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	SuccessRate float64 `json:"success_rate"`
}

// VaultValuation describes a GAV or NAV valuation of an Enzyme vault.
type VaultValuation struct {
	Vault        string `json:"vault"`
	Kind         string `json:"kind"`
	Denomination string `json:"denomination"`
	Value        string `json:"value"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("giza api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the agent daemon API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey stores the API key sent with subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored API key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// SubmitTask creates a new task; the server queues it for asynchronous execution.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID)
	if err := c.get(ctx, endpoint, &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns the most recently updated tasks.
func (c *Client) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	endpoint := "/api/v1/tasks"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Stats returns aggregate task counts.
func (c *Client) Stats(ctx context.Context) (TaskStats, error) {
	var stats TaskStats
	if err := c.get(ctx, "/api/v1/tasks/stats", &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// VaultValue queries the GAV or NAV of a vault. Kind must be "gav" or "nav".
func (c *Client) VaultValue(ctx context.Context, vaultAddress, kind string) (VaultValuation, error) {
	if kind != "gav" && kind != "nav" {
		return VaultValuation{}, errors.New("giza: kind must be gav or nav")
	}
	endpoint := fmt.Sprintf("/api/v1/vaults/%s/value?kind=%s", url.PathEscape(vaultAddress), kind)
	var valuation VaultValuation
	if err := c.get(ctx, endpoint, &valuation); err != nil {
		return VaultValuation{}, err
	}
	return valuation, nil
}

// WaitForTask polls the task until it reaches a terminal status or the context
// is cancelled.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
