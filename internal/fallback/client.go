// Package fallback calls the external text-generation service that answers
// on behalf of busy users.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single call to the responder service.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

var (
	errUnexpectedStatus = errors.New("unexpected status")
	errEmptyResult      = errors.New("empty result")
)

// Responder produces a substitute reply for a prompt. A false second return
// value means no reply is available; it is not an error.
type Responder interface {
	Respond(ctx context.Context, prompt string) (string, bool)
}

// Config holds configuration for the HTTP responder client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client is a Responder backed by an HTTP endpoint that accepts
// {"prompt": "..."} and answers {"result": "..."}.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

type request struct {
	Prompt string `json:"prompt"`
}

type response struct {
	Result *string `json:"result"`
}

// NewClient creates a responder client. A zero timeout uses DefaultTimeout.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger.With("component", "fallback"),
	}
}

// Respond makes exactly one attempt. Timeouts, transport errors, non-2xx
// statuses and malformed or empty bodies all yield ("", false).
func (c *Client) Respond(ctx context.Context, prompt string) (string, bool) {
	start := time.Now()
	result, err := c.call(ctx, prompt)
	if err != nil {
		c.logger.Warn("Fallback responder unavailable",
			"error", err,
			"timeout", c.cfg.Timeout,
			"duration", time.Since(start))
		return "", false
	}
	c.logger.Debug("Fallback responder answered", "duration", time.Since(start))
	return result, true
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(request{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post prompt: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Result == nil || strings.TrimSpace(*out.Result) == "" {
		return "", errEmptyResult
	}
	return *out.Result, nil
}

// Disabled never produces a reply. Used when no responder URL is configured.
type Disabled struct{}

// Respond always reports that no reply is available.
func (Disabled) Respond(context.Context, string) (string, bool) {
	return "", false
}

var (
	_ Responder = (*Client)(nil)
	_ Responder = Disabled{}
)
