package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/sdk/batch"
	"github.com/nicktill/rfiscope/pkg/sdk/transport"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

// DefaultServer is used when ClientConfig.Server is empty
const DefaultServer = "http://localhost:" + config.DefaultPort

// ClientConfig holds configuration for the rfiscope client
type ClientConfig struct {
	Server       string        `json:"server"`
	APIKey       string        `json:"api_key"`
	FlushEvery   time.Duration `json:"flush_every"`
	MaxBatchSize int           `json:"max_batch_size"`
}

// Client pushes scan samples to an rfiscope server and calls its admin endpoints
type Client struct {
	config    ClientConfig
	transport *transport.HTTPTransport
	batcher   *batch.Batcher

	mu      sync.Mutex
	started bool
}

// Session is one listed observing session
type Session struct {
	storage.SessionInfo
	Label string `json:"label"`
	Stale bool   `json:"stale"`
}

// SessionQuery filters Sessions. Zero values leave a filter open.
type SessionQuery struct {
	Receivers []string
	Start     time.Time
	End       time.Time
	StaleOnly bool
}

// BackfillRequest asks the server to rebuild view levels
type BackfillRequest struct {
	Sessions  []string `json:"sessions,omitempty"`
	Reset     bool     `json:"reset"`
	StaleOnly bool     `json:"stale_only"`
	Workers   int      `json:"workers,omitempty"`
}

// ImportResult summarises a server-side import
type ImportResult struct {
	SamplesImported int      `json:"samples_imported"`
	BatchesWritten  int      `json:"batches_written"`
	Sessions        int      `json:"sessions"`
	TimeRange       string   `json:"time_range"`
	Errors          []string `json:"errors,omitempty"`
}

// New creates a new client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > config.MaxSamplesPerRequest {
		cfg.MaxBatchSize = config.MaxSamplesPerRequest
	}

	trans, err := transport.NewHTTP(cfg.Server, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	batcher := batch.New(trans, batch.Config{
		MaxBatchSize: cfg.MaxBatchSize,
		FlushEvery:   cfg.FlushEvery,
		OnError: func(err error, dropped int) {
			log.Printf("Failed to send %d samples: %v", dropped, err)
		},
	})

	return &Client{
		config:    cfg,
		transport: trans,
		batcher:   batcher,
	}, nil
}

// Start begins periodic flushing of recorded samples
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("client already started")
	}
	if err := c.batcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true
	return nil
}

// Stop flushes remaining samples
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	if err := c.batcher.Stop(); err != nil {
		return fmt.Errorf("failed to flush samples: %w", err)
	}
	return nil
}

// Flush sends buffered samples now
func (c *Client) Flush() error {
	return c.batcher.Flush()
}

// Stats reports samples sent and dropped
func (c *Client) Stats() batch.Stats {
	return c.batcher.Stats()
}

// Record buffers one sample
func (c *Client) Record(s spectrum.Sample) {
	c.batcher.Add(s)
}

// RecordScan buffers one scan: intensities[i] was measured at frequencies[i]
func (c *Client) RecordScan(session, receiver string, at time.Time, frequencies, intensities []float64) error {
	if len(frequencies) != len(intensities) {
		return fmt.Errorf("scan %s: %d frequencies but %d intensities", session, len(frequencies), len(intensities))
	}
	for i, f := range frequencies {
		c.batcher.Add(spectrum.Sample{
			Frequency: f,
			Intensity: intensities[i],
			Timestamp: at,
			Session:   session,
			Receiver:  receiver,
		})
	}
	return nil
}

// Sessions lists sessions known to the server
func (c *Client) Sessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	params := url.Values{}
	if len(q.Receivers) > 0 {
		params.Set("receivers", strings.Join(q.Receivers, ","))
	}
	if !q.Start.IsZero() {
		params.Set("start", q.Start.Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		params.Set("end", q.End.Format(time.RFC3339))
	}
	if q.StaleOnly {
		params.Set("stale", "true")
	}

	path := "/v1/sessions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.transport.Do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Backfill runs a backfill on the server and waits for its result
func (c *Client) Backfill(ctx context.Context, req BackfillRequest) (*tiering.Result, error) {
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}
	var result tiering.Result
	if err := c.transport.Do(ctx, http.MethodPost, "/v1/backfill", "application/json", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Import uploads a JSON backup or CSV export. contentType is
// "application/json" or "text/csv".
func (c *Client) Import(ctx context.Context, r io.Reader, contentType string) (*ImportResult, error) {
	var result ImportResult
	if err := c.transport.Do(ctx, http.MethodPost, "/v1/import", contentType, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func jsonBody(v interface{}) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bytes.NewReader(data), nil
}
