package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

// FormatVersion is written into JSON backups
const FormatVersion = "1.0"

// ErrExportTooLarge is returned when the selection holds more rows than one export may carry
var ErrExportTooLarge = errors.New("export too large")

// csvHeader lists the CSV columns in order
var csvHeader = []string{"id", "timestamp", "session", "receiver", "frequency", "intensity", "tiers"}

// Exporter handles exporting samples to various formats
type Exporter struct {
	storage storage.Storage
	maxRows int
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store, maxRows: config.MaxQueryRows}
}

// ExportOptions configures the export operation.
// Zero values leave a filter open.
type ExportOptions struct {
	Start     time.Time
	End       time.Time
	Receivers []string
	Sessions  []string
	FreqLow   float64
	FreqHigh  float64

	// Format: "json" or "csv"
	Format string
}

func (o ExportOptions) request() storage.QueryRequest {
	return storage.QueryRequest{
		Sessions:  o.Sessions,
		Receivers: o.Receivers,
		Start:     o.Start,
		End:       o.End,
		FreqLow:   o.FreqLow,
		FreqHigh:  o.FreqHigh,
	}
}

// ExportResult contains stats about the export
type ExportResult struct {
	SamplesExported int       `json:"samples_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata heads a JSON backup
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SampleCount int       `json:"sample_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Backup is the JSON export document, also accepted by the importer
type Backup struct {
	Metadata Metadata          `json:"metadata"`
	Samples  []spectrum.Sample `json:"samples"`
}

// checkSize fails before reading rows when the selection is over the cap
func (e *Exporter) checkSize(ctx context.Context, req storage.QueryRequest) error {
	summary, err := e.storage.Summarize(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to size export: %w", err)
	}
	if summary.Count > e.maxRows {
		return fmt.Errorf("%w: %d rows selected (max %d)", ErrExportTooLarge, summary.Count, e.maxRows)
	}
	return nil
}

// ExportToJSON exports samples as a JSON backup to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	req := opts.request()
	if err := e.checkSize(ctx, req); err != nil {
		return nil, err
	}

	samples, err := e.storage.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}

	backup := Backup{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			SampleCount: len(samples),
			Format:      "json",
			Version:     FormatVersion,
		},
		Samples: samples,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		SamplesExported: len(samples),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "json",
		ExportedAt:      backup.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV streams samples as CSV rows to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	req := opts.request()
	if err := e.checkSize(ctx, req); err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	count := 0
	err := e.storage.Scan(ctx, req, func(s spectrum.Sample) error {
		count++
		return writer.Write([]string{
			strconv.FormatUint(s.ID, 10),
			s.Timestamp.UTC().Format(time.RFC3339),
			s.Session,
			s.Receiver,
			strconv.FormatFloat(s.Frequency, 'f', -1, 64),
			strconv.FormatFloat(s.Intensity, 'f', -1, 64),
			strconv.FormatUint(uint64(s.Tiers), 10),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write CSV rows: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		SamplesExported: count,
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "csv",
		ExportedAt:      time.Now(),
	}, nil
}

func timeRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
}
