// Package translate talks to the translation service and turns accumulated
// signs into sentences.
package translate

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

const (
	// DefaultTranslationURL is the base URL of the language model service.
	DefaultTranslationURL = "http://localhost:8002"
	// DefaultGatewayURL is the base URL of the API gateway.
	DefaultGatewayURL = "http://localhost:8000"
	// DefaultDetectionURL is the HTTP base URL of the detection service.
	DefaultDetectionURL = "http://localhost:8001"
	// DefaultLanguage is the target language when none is given.
	DefaultLanguage = "en"
)

// RequestError is a non-2xx answer from one of the services.
type RequestError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// TranslateRequest is the body of a translation call.
type TranslateRequest struct {
	SignSequence []string `json:"sign_sequence"`
	SessionID    string   `json:"session_id"`
	Context      string   `json:"context,omitempty"`
	Language     string   `json:"language"`
}

// TranslateResponse is the translation service answer.
type TranslateResponse struct {
	Translation      string   `json:"translation"`
	Confidence       float64  `json:"confidence"`
	SessionID        string   `json:"session_id"`
	ProcessingTimeMS float64  `json:"processing_time_ms"`
	Alternatives     []string `json:"alternatives,omitempty"`
	Fallback         bool     `json:"fallback,omitempty"`
}

// SessionResponse is returned when a session is created or cleared.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ContextEntry is one translated sign sequence held by the service.
type ContextEntry struct {
	Signs       []string `json:"signs"`
	Translation string   `json:"translation"`
}

// SessionContext is the conversation context the service keeps per session.
type SessionContext struct {
	SessionID string         `json:"session_id"`
	Context   string         `json:"context"`
	History   []ContextEntry `json:"history"`
}

// HealthStatus is the body of a health endpoint.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp,omitempty"`
	Services  map[string]string `json:"services,omitempty"`
}

// Config holds the service base URLs.
type Config struct {
	TranslationURL string
	GatewayURL     string
	DetectionURL   string
	// Timeout bounds every request. Zero means no timeout.
	Timeout time.Duration
	Client  *http.Client
}

// Client is a JSON-over-HTTP client for the translation service, the gateway
// and the detection service health endpoint.
type Client struct {
	translationURL string
	gatewayURL     string
	detectionURL   string
	http           *http.Client
}

// NewClient creates a client. Empty URLs fall back to the local defaults.
func NewClient(cfg Config) *Client {
	if cfg.TranslationURL == "" {
		cfg.TranslationURL = DefaultTranslationURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.DetectionURL == "" {
		cfg.DetectionURL = DefaultDetectionURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		translationURL: strings.TrimRight(cfg.TranslationURL, "/"),
		gatewayURL:     strings.TrimRight(cfg.GatewayURL, "/"),
		detectionURL:   strings.TrimRight(cfg.DetectionURL, "/"),
		http:           cfg.Client,
	}
}

// Translate converts a sign sequence into a sentence.
func (c *Client) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if req.Language == "" {
		req.Language = DefaultLanguage
	}
	if req.SignSequence == nil {
		req.SignSequence = []string{}
	}

	var resp TranslateResponse
	if err := c.do(ctx, "translate", http.MethodPost, c.translationURL+"/api/v1/translate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetContext fetches the context the service holds for sessionID.
func (c *Client) GetContext(ctx context.Context, sessionID string) (*SessionContext, error) {
	var resp SessionContext
	if err := c.do(ctx, "get context", http.MethodGet, c.contextURL(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearContext drops the context the service holds for sessionID.
func (c *Client) ClearContext(ctx context.Context, sessionID string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, "clear context", http.MethodDelete, c.contextURL(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GatewayHealth checks the API gateway.
func (c *Client) GatewayHealth(ctx context.Context) (*HealthStatus, error) {
	return c.health(ctx, "gateway health", c.gatewayURL+"/api/v1/health")
}

// DetectionHealth checks the detection service.
func (c *Client) DetectionHealth(ctx context.Context) (*HealthStatus, error) {
	return c.health(ctx, "detection health", c.detectionURL+"/api/v1/health")
}

// TranslationHealth checks the translation service.
func (c *Client) TranslationHealth(ctx context.Context) (*HealthStatus, error) {
	return c.health(ctx, "translation health", c.translationURL+"/health")
}

func (c *Client) health(ctx context.Context, op, endpoint string) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.do(ctx, op, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) contextURL(sessionID string) string {
	return c.translationURL + "/api/v1/context/" + url.PathEscape(sessionID)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorDetail extracts the "detail" field of an error body. An unreadable
// body yields "Unknown error"; a readable one without detail yields "".
func errorDetail(r io.Reader) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 1<<16)).Decode(&body); err != nil {
		return "Unknown error"
	}
	if len(body.Detail) == 0 || string(body.Detail) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	// Validation errors carry a structured detail.
	return string(body.Detail)
}
