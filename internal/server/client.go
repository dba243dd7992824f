package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client sends envelopes to a running daemon.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient returns a Client for the daemon at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Call posts env and decodes the response envelope. Transport failures are
// returned as errors; request failures come back in the Response.
func (c *Client) Call(ctx context.Context, env Envelope) (Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Response{}, fmt.Errorf("encode envelope: %w", err)
	}
	var resp Response
	if err := c.do(ctx, http.MethodPost, "/v1/rpc", body, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Abort asks the daemon to abort a running request.
func (c *Client) Abort(ctx context.Context, requestID string) (Response, error) {
	var resp Response
	err := c.do(ctx, http.MethodPost, "/v1/rpc/"+requestID+"/abort", nil, &resp)
	return resp, err
}

// Health reports whether the daemon answers its health check.
func (c *Client) Health(ctx context.Context) bool {
	var out map[string]any
	return c.do(ctx, http.MethodGet, "/v1/health", nil, &out) == nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("call daemon: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("call daemon: unauthorized")
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response (%s): %w", res.Status, err)
	}
	return nil
}
