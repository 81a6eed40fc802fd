// Package chat sends user turns to the chat server and opens the streamed reply.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Transport errors
var (
	ErrBadStatus = errors.New("chat server returned non-OK status")
	ErrNoBody    = errors.New("chat server returned no response body")
)

// StatusError carries the HTTP status of a rejected turn.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %d", ErrBadStatus, e.Code)
	}
	return fmt.Sprintf("%s: %d - %s", ErrBadStatus, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrBadStatus }

// ClientConfig configures the chat client
type ClientConfig struct {
	Endpoint string        // e.g. "http://127.0.0.1:5000/chat"
	Timeout  time.Duration // dial and response-header timeout; the body itself is unbounded
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint: "http://127.0.0.1:5000/chat",
		Timeout:  30 * time.Second,
	}
}

// Request is the body of one outbound turn.
type Request struct {
	Message string `json:"message"`
}

// Client posts messages to the chat endpoint
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new chat client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	// No overall client timeout: a reply streams for as long as the server
	// keeps synthesizing audio.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With().Str("component", "chat-client").Logger(),
	}
}

// Endpoint returns the configured chat URL.
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Stream posts message and returns the open response body. The caller must
// close it. Non-OK responses and responses without a body are errors.
func (c *Client) Stream(ctx context.Context, message string) (io.ReadCloser, error) {
	body, err := json.Marshal(Request{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	c.logger.Debug().
		Str("endpoint", c.config.Endpoint).
		Int("messageLen", len(message)).
		Msg("Sending chat turn")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Chat turn rejected")
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(preview))}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}

	return resp.Body, nil
}
