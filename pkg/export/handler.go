package export

import (
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/storage"
)

const (
	// DefaultExportWindow is the time range exported when start is omitted
	DefaultExportWindow = config.DefaultExportWindow

	// MaxExportWindow is the maximum allowed export time range
	MaxExportWindow = config.MaxExportWindow

	maxImportBytes = 256 << 20
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	policy   *config.Policy
}

// NewHandler creates a new export/import handler. policy may be nil.
func NewHandler(store storage.Storage, policy *config.Policy) *Handler {
	importer := NewImporter(store)
	if policy != nil {
		importer.SetPolicy(policy)
	}
	return &Handler{
		exporter: NewExporter(store),
		importer: importer,
		policy:   policy,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start, end: date or RFC3339 timestamp (default: the 24h before end, end defaults to now)
//   - receivers, sessions: comma separated filters (optional)
//   - freq_low, freq_high: MHz (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondFieldError(w, http.StatusBadRequest, "format", "format must be 'json' or 'csv'")
		return
	}

	opts, field, err := h.parseOptions(query)
	if err != nil {
		httpx.RespondFieldError(w, http.StatusBadRequest, field, err.Error())
		return
	}
	opts.Format = format

	timestamp := time.Now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=rfiscope-export-%s.%s", timestamp, format))

	ctx := r.Context()
	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(ctx, w, opts)
	}
	if err != nil {
		log.Printf("❌ Export failed: %v", err)
		w.Header().Del("Content-Disposition")
		if errors.Is(err, ErrExportTooLarge) {
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	log.Printf("✅ Exported %d samples (%s) from %s", result.SamplesExported, format, result.TimeRange)
}

// parseOptions reads filters from the query, returning the offending field on error
func (h *Handler) parseOptions(query map[string][]string) (ExportOptions, string, error) {
	get := func(key string) string {
		if v := query[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	var opts ExportOptions
	end, err := httpx.ParseTime(get("end"))
	if err != nil {
		return opts, "end", err
	}
	if end.IsZero() {
		end = time.Now()
	}
	start, err := httpx.ParseTime(get("start"))
	if err != nil {
		return opts, "start", err
	}
	if start.IsZero() {
		start = end.Add(-DefaultExportWindow)
	}
	if !start.Before(end) {
		return opts, "start", errors.New("start must be before end")
	}
	if end.Sub(start) > MaxExportWindow {
		return opts, "start", fmt.Errorf("time range too large, maximum is %v", MaxExportWindow)
	}
	opts.Start, opts.End = start, end

	if opts.FreqLow, err = httpx.ParseFloat(get("freq_low")); err != nil {
		return opts, "freq_low", err
	}
	if opts.FreqHigh, err = httpx.ParseFloat(get("freq_high")); err != nil {
		return opts, "freq_high", err
	}

	opts.Sessions = httpx.SplitList(query["sessions"])
	opts.Receivers = httpx.SplitList(query["receivers"])
	if h.policy != nil && len(opts.Receivers) > 0 {
		if opts.Receivers, err = h.policy.Expand(opts.Receivers); err != nil {
			return opts, "receivers", err
		}
	}
	return opts, "", nil
}

// HandleImport handles POST /v1/import.
// Accepts a JSON backup (application/json) or a CSV file (text/csv).
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mediaType != "application/json" && mediaType != "text/csv") {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/csv")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	var result *ImportResult
	if mediaType == "text/csv" {
		result, err = h.importer.ImportFromCSV(r.Context(), body)
	} else {
		result, err = h.importer.ImportFromJSON(r.Context(), body)
	}
	if err != nil {
		log.Printf("❌ Import failed: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrMissingColumn) || errors.Is(err, ErrInvalidBackup) || errors.Is(err, storage.ErrReceiverMismatch) || errors.Is(err, storage.ErrSessionCollision) {
			status = http.StatusBadRequest
		}
		httpx.RespondError(w, status, fmt.Errorf("import failed: %w", err))
		return
	}

	if len(result.Errors) > 0 {
		log.Printf("⚠️  Import completed with %d validation errors", len(result.Errors))
		for i, msg := range result.Errors {
			if i >= 10 {
				log.Printf("   ... and %d more errors", len(result.Errors)-10)
				break
			}
			log.Printf("   - %s", msg)
		}
	}

	log.Printf("✅ Imported %d samples across %d sessions in %d batches from %s",
		result.SamplesImported, result.Sessions, result.BatchesWritten, result.TimeRange)
	httpx.RespondJSON(w, http.StatusOK, result)
}
