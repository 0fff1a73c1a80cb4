package optimizations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"optimizer-backend/internal/shared/server/respond"
)

// StartRequest is the start call body. Field names are the wire contract.
type StartRequest struct {
	TargetContentID string `json:"targetContentId"`
	TargetRole      string `json:"targetRole"`
	Location        string `json:"location,omitempty"`
	ManualMode      bool   `json:"manual_mode"`
}

// ContinueRequest resumes a paused session. The continuation token is the
// sole carrier of pipeline position; no draft content travels back.
type ContinueRequest struct {
	TargetContentID string `json:"targetContentId"`
	ContinuationID  string `json:"continuation_id"`
	ManualMode      bool   `json:"manual_mode"`
}

// SessionAPI issues optimization requests and returns the event stream.
// Implemented by Client; faked in controller tests.
type SessionAPI interface {
	Start(ctx context.Context, req StartRequest) (io.ReadCloser, string, error)
	Continue(ctx context.Context, req ContinueRequest) (io.ReadCloser, string, error)
}

// Client talks to the optimizer API over HTTP with a bearer credential.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client. The token rides on every request through
// an oauth2 static token transport.
func NewClient(baseURL, token string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	// Streaming responses stay open across stages; the per-request context
	// is the only deadline.
	httpClient.Timeout = 0
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Start opens a new optimization stream. The returned reader is the live
// event stream; the string is the server-assigned session id.
func (c *Client) Start(ctx context.Context, req StartRequest) (io.ReadCloser, string, error) {
	return c.post(ctx, "/api/v1/optimizations", req)
}

// Continue resumes a paused session stream.
func (c *Client) Continue(ctx context.Context, req ContinueRequest) (io.ReadCloser, string, error) {
	return c.post(ctx, "/api/v1/optimizations/continue", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (io.ReadCloser, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("optimizer request: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, "", apiError(resp)
	}
	if resp.Body == nil {
		return nil, "", fmt.Errorf("optimizer request: missing response body")
	}
	return resp.Body, resp.Header.Get("X-Optimization-Id"), nil
}

// apiError turns a non-2xx JSON error body into a descriptive error. Bodies
// that are not the standard error shape degrade to the raw status.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed respond.ErrorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("optimizer api status %d: %s (%s)", resp.StatusCode, parsed.Error.Message, parsed.Error.Code)
	}
	return fmt.Errorf("optimizer api status %d", resp.StatusCode)
}

var _ SessionAPI = (*Client)(nil)
