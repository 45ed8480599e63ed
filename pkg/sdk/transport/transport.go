package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// IngestPath is where samples are posted
const IngestPath = "/v1/ingest"

// Transport defines the interface for sending samples
type Transport interface {
	Send(ctx context.Context, samples []spectrum.Sample) error
}

// StatusError is a non-2xx response from the server
type StatusError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *StatusError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("request failed with status %d: %s (%s)", e.StatusCode, e.Message, e.Field)
	}
	if e.Message != "" {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Retryable reports whether sending the same request again may succeed
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPTransport talks to an rfiscope server over HTTP
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTP creates a transport for the server at baseURL (e.g. http://localhost:8080)
func NewHTTP(baseURL, apiKey string) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Send posts samples to the ingest endpoint
func (t *HTTPTransport) Send(ctx context.Context, samples []spectrum.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	body, err := json.Marshal(struct {
		Samples []spectrum.Sample `json:"samples"`
	}{samples})
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	return t.Do(ctx, http.MethodPost, IngestPath, "application/json", bytes.NewReader(body), nil)
}

// Do sends a request to path and decodes a JSON response into out (when not nil).
func (t *HTTPTransport) Do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	serr := &StatusError{StatusCode: resp.StatusCode}
	var body httpx.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		serr.Message = body.Error
		if body.Message != "" {
			serr.Message = body.Message
		}
		serr.Field = body.Field
	}
	return serr
}
