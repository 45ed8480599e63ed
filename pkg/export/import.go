package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/ingest"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

// MaxImportBatchSize is the maximum number of samples to write at once
const MaxImportBatchSize = config.MaxImportBatchSize

var (
	// ErrMissingColumn is returned when a CSV file lacks a required column
	ErrMissingColumn = errors.New("missing CSV column")

	// ErrInvalidBackup is returned when a backup cannot be decoded
	ErrInvalidBackup = errors.New("invalid backup")
)

var requiredColumns = []string{"timestamp", "session", "receiver", "frequency", "intensity"}

// Importer handles importing samples from backup files
type Importer struct {
	storage storage.Storage
	policy  *config.Policy
	now     func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store, now: time.Now}
}

// SetPolicy makes the importer skip samples of receivers the policy does not know
func (im *Importer) SetPolicy(policy *config.Policy) {
	im.policy = policy
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SamplesImported int       `json:"samples_imported"`
	BatchesWritten  int       `json:"batches_written"`
	Sessions        int       `json:"sessions"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports samples from a JSON backup
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON: %v", ErrInvalidBackup, err)
	}
	return im.importSamples(ctx, backup.Samples, nil)
}

// ImportFromCSV imports samples from a CSV file with a header row.
// Columns are matched by name; id and tiers are ignored.
func (im *Importer) ImportFromCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", ErrInvalidBackup, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}

	var samples []spectrum.Sample
	var rowErrors []string
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read CSV line %d: %v", ErrInvalidBackup, line, err)
		}
		s, err := parseRow(record, cols)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		samples = append(samples, s)
	}
	return im.importSamples(ctx, samples, rowErrors)
}

func parseRow(record []string, cols map[string]int) (spectrum.Sample, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[cols[name]])
	}

	ts, err := time.Parse(time.RFC3339, field("timestamp"))
	if err != nil {
		return spectrum.Sample{}, fmt.Errorf("invalid timestamp %q", field("timestamp"))
	}
	freq, err := strconv.ParseFloat(field("frequency"), 64)
	if err != nil {
		return spectrum.Sample{}, fmt.Errorf("invalid frequency %q", field("frequency"))
	}
	intensity, err := strconv.ParseFloat(field("intensity"), 64)
	if err != nil {
		return spectrum.Sample{}, fmt.Errorf("invalid intensity %q", field("intensity"))
	}
	return spectrum.Sample{
		Timestamp: ts,
		Session:   field("session"),
		Receiver:  field("receiver"),
		Frequency: freq,
		Intensity: intensity,
	}, nil
}

// importSamples validates and writes samples in batches. Identities and tier
// flags are dropped: rows get fresh ids and their sessions are left stale
// for the next backfill.
func (im *Importer) importSamples(ctx context.Context, samples []spectrum.Sample, errs []string) (*ImportResult, error) {
	now := im.now()
	valid := make([]spectrum.Sample, 0, len(samples))
	for i, s := range samples {
		if err := im.validate(s, now); err != nil {
			errs = append(errs, fmt.Sprintf("sample %d: %v", i, err))
			continue
		}
		s.ID = 0
		s.Tiers = 0
		valid = append(valid, s)
	}

	result := &ImportResult{
		ImportedAt: now,
		Errors:     errs,
		TimeRange:  "empty",
	}
	if len(valid) == 0 {
		return result, nil
	}

	for i := 0; i < len(valid); i += MaxImportBatchSize {
		end := min(i+MaxImportBatchSize, len(valid))
		if _, err := im.storage.Write(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
	}

	sessions := make(map[string]bool)
	minTime, maxTime := valid[0].Timestamp, valid[0].Timestamp
	for _, s := range valid {
		sessions[s.Session] = true
		if s.Timestamp.Before(minTime) {
			minTime = s.Timestamp
		}
		if s.Timestamp.After(maxTime) {
			maxTime = s.Timestamp
		}
	}

	result.SamplesImported = len(valid)
	result.Sessions = len(sessions)
	result.TimeRange = timeRange(minTime, maxTime)
	return result, nil
}

func (im *Importer) validate(s spectrum.Sample, now time.Time) error {
	if err := ingest.ValidateSample(s, now); err != nil {
		return err
	}
	if im.policy != nil {
		if _, err := im.policy.Prominence(s.Receiver); err != nil {
			return err
		}
	}
	return nil
}
