package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/explore"
	"github.com/nicktill/rfiscope/pkg/export"
	"github.com/nicktill/rfiscope/pkg/ingest"
	"github.com/nicktill/rfiscope/pkg/planner"
	"github.com/nicktill/rfiscope/pkg/server"
	"github.com/nicktill/rfiscope/pkg/server/monitor"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/storage/badger"
	"github.com/nicktill/rfiscope/pkg/storage/memory"
	"github.com/nicktill/rfiscope/pkg/tiering"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

// setupRouter wires the full API the way main does
func setupRouter(t *testing.T, store storage.Storage) *mux.Router {
	t.Helper()
	policy := config.DefaultPolicy()
	storageMonitor := monitor.NewStorageMonitor(t.TempDir(), 1<<30)
	handlers := server.InitializeHandlers(store, policy, storageMonitor, explore.NewRegistry(time.Minute, 8))

	backfiller, backfillMonitor, err := server.InitializeBackfill(store, policy, 0)
	if err != nil {
		t.Fatalf("InitializeBackfill failed: %v", err)
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, handlers, storageMonitor, backfillMonitor, server.NewBackfillRunner(backfiller, backfillMonitor), config.DefaultPort)
	return router
}

func openBadger(t *testing.T) storage.Storage {
	t.Helper()
	store, err := badger.New(badger.Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func send(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func scan(session string, at time.Time, n int) []spectrum.Sample {
	samples := make([]spectrum.Sample, n)
	for i := range samples {
		intensity := 1.0 + float64(i%5)/10
		if i%500 == 250 {
			intensity = 80
		}
		samples[i] = spectrum.Sample{
			Frequency: 1100 + float64(i)*0.1,
			Intensity: intensity,
			Timestamp: at,
			Session:   session,
			Receiver:  "Rcvr1_2",
		}
	}
	return samples
}

// TestE2E_IngestBackfillPlot covers ingest, tier backfill and plotting
func TestE2E_IngestBackfillPlot(t *testing.T) {
	router := setupRouter(t, openBadger(t))
	now := time.Now().UTC().Truncate(time.Second)

	samples := append(scan("TGBT24A_001", now.Add(-2*time.Hour), 3000), scan("TGBT24A_002", now.Add(-time.Hour), 3000)...)
	w := send(t, router, http.MethodPost, "/v1/ingest", ingest.IngestRequest{Samples: samples})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var ingestResp ingest.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ingestResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ingestResp.Count != 6000 {
		t.Errorf("Expected 6000 samples ingested, got %d", ingestResp.Count)
	}

	plotURL := "/v1/plot?" + url.Values{
		"receivers": {"Rcvr1_2"},
		"start":     {now.Add(-3 * time.Hour).Format(time.RFC3339)},
		"end":       {now.Format(time.RFC3339)},
		"width":     {"5"},
	}.Encode()

	w = send(t, router, http.MethodGet, plotURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Plot before backfill failed with status %d: %s", w.Code, w.Body.String())
	}

	w = send(t, router, http.MethodPost, "/v1/backfill", server.BackfillRequest{Workers: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("Backfill failed with status %d: %s", w.Code, w.Body.String())
	}
	var result tiering.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Scopes) != 2 {
		t.Fatalf("Expected 2 sessions rebuilt, got %d", len(result.Scopes))
	}

	w = send(t, router, http.MethodGet, plotURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Plot after backfill failed with status %d: %s", w.Code, w.Body.String())
	}
	var plot server.PlotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &plot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if plot.Tier != "view_level_0" {
		t.Errorf("Expected view_level_0, got %s", plot.Tier)
	}
	if plot.Points == 0 || plot.Points > 6000 {
		t.Errorf("Unexpected point count %d", plot.Points)
	}
	if len(plot.Plot.Traces) != 3 {
		t.Errorf("Expected average plus 2 session traces, got %d", len(plot.Plot.Traces))
	}
}

// TestE2E_Explore zooms into an exploration until the exact slice is served
func TestE2E_Explore(t *testing.T) {
	router := setupRouter(t, openBadger(t))
	now := time.Now().UTC().Truncate(time.Second)

	w := send(t, router, http.MethodPost, "/v1/ingest", ingest.IngestRequest{Samples: scan("TGBT24A_003", now.Add(-time.Hour), 5000)})
	if w.Code != http.StatusOK {
		t.Fatalf("Ingest failed with status %d: %s", w.Code, w.Body.String())
	}

	w = send(t, router, http.MethodPost, "/v1/explore", explore.CreateRequest{
		Form:       planner.Form{Receivers: []string{"Rcvr1_2"}, Start: now.Add(-2 * time.Hour).Format(time.RFC3339)},
		PixelWidth: 4,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Create failed with status %d: %s", w.Code, w.Body.String())
	}
	var created explore.CreateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !created.Result.Derived {
		t.Error("Expected a derived level for an untiered session")
	}

	w = send(t, router, http.MethodPost, fmt.Sprintf("/v1/explore/%s/viewport", created.ID), explore.ViewportRequest{
		Seq:      1,
		Viewport: viewport.Viewport{XMin: 1200, XMax: 1201, PixelWidth: 1000},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Viewport failed with status %d: %s", w.Code, w.Body.String())
	}
	var zoomed explore.ViewportResponse
	if err := json.Unmarshal(w.Body.Bytes(), &zoomed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !zoomed.Exact {
		t.Errorf("Expected exact slice, got tier %s", zoomed.Tier)
	}
	if n := len(zoomed.Points); n < 9 || n > 11 {
		t.Errorf("Expected about 11 points in 1200-1201 MHz, got %d", n)
	}

	w = send(t, router, http.MethodDelete, "/v1/explore/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Delete returned %d", w.Code)
	}
}

// TestE2E_ExportImport restores a JSON backup into an empty store
func TestE2E_ExportImport(t *testing.T) {
	router := setupRouter(t, openBadger(t))
	now := time.Now().UTC().Truncate(time.Second)

	w := send(t, router, http.MethodPost, "/v1/ingest", ingest.IngestRequest{Samples: scan("TGBT24A_004", now.Add(-time.Hour), 1200)})
	if w.Code != http.StatusOK {
		t.Fatalf("Ingest failed with status %d: %s", w.Code, w.Body.String())
	}

	w = send(t, router, http.MethodGet, "/v1/export?format=json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Export failed with status %d: %s", w.Code, w.Body.String())
	}
	backup := w.Body.Bytes()

	restored := memory.New()
	target := setupRouter(t, restored)

	req := httptest.NewRequest(http.MethodPost, "/v1/import", bytes.NewReader(backup))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	target.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Import failed with status %d: %s", w.Code, w.Body.String())
	}

	var imported export.ImportResult
	if err := json.Unmarshal(w.Body.Bytes(), &imported); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if imported.SamplesImported != 1200 {
		t.Errorf("Expected 1200 samples imported, got %d", imported.SamplesImported)
	}

	w = send(t, target, http.MethodGet, "/v1/sessions?stale=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Sessions failed with status %d: %s", w.Code, w.Body.String())
	}
	var sessions ingest.SessionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sessions.Count != 1 || sessions.Sessions[0].Name != "TGBT24A_004" {
		t.Errorf("Expected the restored session to be stale, got %+v", sessions.Sessions)
	}
}

// TestE2E_InvalidRequests tests error handling
func TestE2E_InvalidRequests(t *testing.T) {
	router := setupRouter(t, memory.New())

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown receiver", http.MethodPost, "/v1/ingest", ingest.IngestRequest{Samples: []spectrum.Sample{{
			Frequency: 1400, Intensity: 1, Timestamp: time.Now(), Session: "S", Receiver: "Rcvr68_92",
		}}}, http.StatusBadRequest},
		{"plot without receivers", http.MethodGet, "/v1/plot", nil, http.StatusBadRequest},
		{"plot empty store", http.MethodGet, "/v1/plot?receivers=Rcvr1_2", nil, http.StatusNotFound},
		{"unknown exploration", http.MethodDelete, "/v1/explore/00000000-0000-0000-0000-000000000000", nil, http.StatusNotFound},
		{"export bad format", http.MethodGet, "/v1/export?format=xml", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(t, router, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}
