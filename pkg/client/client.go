// Package client is a Go SDK for the challenge-engine HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// Client is a Go SDK for challenge-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new challenge-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Result is the outcome of a completion attempt
type Result struct {
	Outcome            string                 `json:"outcome"`
	Challenge          string                 `json:"challenge"`
	AttemptID          string                 `json:"attempt_id,omitempty"`
	NewCount           int                    `json:"new_count"`
	Record             *models.ProgressRecord `json:"record,omitempty"`
	Missing            []json.RawMessage      `json:"missing,omitempty"`
	Level              string                 `json:"level,omitempty"`
	Rewards            []models.Reward        `json:"rewards,omitempty"`
	GrantError         string                 `json:"grant_error,omitempty"`
	ConsumptionApplied bool                   `json:"consumption_applied,omitempty"`
}

// Completed reports whether the attempt incremented the completion count
func (r *Result) Completed() bool {
	return r != nil && r.Outcome == "completed"
}

// CompleteRequest is the body of a completion attempt. A nil snapshot makes
// the server read live state itself.
type CompleteRequest struct {
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Actor    string           `json:"actor,omitempty"`
}

// Complete attempts to complete a challenge for a participant
func (c *Client) Complete(ctx context.Context, world, participant, challenge string, req CompleteRequest) (*Result, error) {
	var out Result
	path := participantPath(world, participant) + "/challenges/" + url.PathEscape(challenge) + "/complete"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetChallenge clears one challenge for a participant
func (c *Client) ResetChallenge(ctx context.Context, world, participant, challenge, actor string) error {
	path := participantPath(world, participant) + "/challenges/" + url.PathEscape(challenge) + "/reset"
	return c.do(ctx, http.MethodPost, path, map[string]string{"actor": actor}, nil)
}

// ResetAll clears every challenge of a participant and returns how many were cleared
func (c *Client) ResetAll(ctx context.Context, world, participant, actor string) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodPost, participantPath(world, participant)+"/reset", map[string]string{"actor": actor}, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

// Progress lists the completion records of a participant
func (c *Client) Progress(ctx context.Context, world, participant string) ([]models.ProgressRecord, error) {
	var out struct {
		Records []models.ProgressRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, participantPath(world, participant)+"/progress", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Levels returns the level status of a participant
func (c *Client) Levels(ctx context.Context, world, participant string) ([]models.LevelStatus, error) {
	var out struct {
		Levels []models.LevelStatus `json:"levels"`
	}
	if err := c.do(ctx, http.MethodGet, participantPath(world, participant)+"/levels", nil, &out); err != nil {
		return nil, err
	}
	return out.Levels, nil
}

// Audit lists resets performed on a participant
func (c *Client) Audit(ctx context.Context, world, participant string) ([]models.ResetAudit, error) {
	var out struct {
		Resets []models.ResetAudit `json:"resets"`
	}
	if err := c.do(ctx, http.MethodGet, participantPath(world, participant)+"/audit", nil, &out); err != nil {
		return nil, err
	}
	return out.Resets, nil
}

// Reload asks the server to re-read a world's definitions and returns the
// number of challenges loaded
func (c *Client) Reload(ctx context.Context, world string) (int, error) {
	var out struct {
		Challenges int `json:"challenges"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/worlds/"+url.PathEscape(world)+"/reload", nil, &out); err != nil {
		return 0, err
	}
	return out.Challenges, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func participantPath(world, participant string) string {
	return "/api/v1/worlds/" + url.PathEscape(world) + "/participants/" + url.PathEscape(participant)
}

// do performs a request and decodes the data of the response envelope into out
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	respBody, status, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if status >= 400 {
			return fmt.Errorf("HTTP %d: %s", status, string(respBody))
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		if result.Error == nil {
			return fmt.Errorf("HTTP %d: %s", status, string(respBody))
		}
		result.Error.Status = status
		return result.Error
	}

	if out != nil && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response data: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}
