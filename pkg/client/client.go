// Package client provides an HTTP client for a composr server, mirroring
// the local manager's operations for remote callers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a composr server's REST API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the local-server defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a composr API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8080/api"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// IsReachable reports whether the server answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Start launches a run on the server and returns its record.
func (c *Client) Start(ctx context.Context, req StartRequest) (RunInfo, error) {
	var rec RunInfo
	body, err := json.Marshal(req)
	if err != nil {
		return rec, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start", bytes.NewReader(body))
	if err != nil {
		return rec, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return rec, fmt.Errorf("start request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return rec, apiError("start", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return rec, fmt.Errorf("decode start response: %w", err)
	}
	return rec, nil
}

// List returns the registered runs in registry order.
func (c *Client) List(ctx context.Context) ([]RunInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runs request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("runs", resp)
	}
	var recs []RunInfo
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode runs response: %w", err)
	}
	return recs, nil
}

// ListDetailed returns the registered runs with start time and uptime.
func (c *Client) ListDetailed(ctx context.Context) ([]RunDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs?detailed=1", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runs request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("runs", resp)
	}
	var recs []RunDetail
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode runs response: %w", err)
	}
	return recs, nil
}

// Kill terminates a run by name.
func (c *Client) Kill(ctx context.Context, name string) error {
	u := c.baseURL + "/kill?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kill request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError("kill", resp)
	}
	var ok okResp
	if err := json.NewDecoder(resp.Body).Decode(&ok); err == nil && !ok.OK {
		return fmt.Errorf("kill not acknowledged for %q", name)
	}
	return nil
}

// Logs fetches (optionally the last tailBytes of) a run's log.
func (c *Client) Logs(ctx context.Context, name string, tailBytes int64) ([]byte, error) {
	u := c.baseURL + "/logs?name=" + url.QueryEscape(name)
	if tailBytes > 0 {
		u += "&tail=" + strconv.FormatInt(tailBytes, 10)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logs request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("logs", resp)
	}
	return io.ReadAll(resp.Body)
}

// apiError surfaces the server's error body when present, with the HTTP
// status as fallback context.
func apiError(op string, resp *http.Response) error {
	var er errorResp
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		return fmt.Errorf("%s failed (%s): %s", op, resp.Status, er.Error)
	}
	return fmt.Errorf("%s failed: %s", op, resp.Status)
}
