package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage/memory"
)

var scanTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testSamples(session, receiver string, n int) []spectrum.Sample {
	samples := make([]spectrum.Sample, n)
	for i := range samples {
		samples[i] = spectrum.Sample{
			Session:   session,
			Receiver:  receiver,
			Timestamp: scanTime,
			Frequency: 1100 + float64(i),
			Intensity: float64(i%5) + 0.5,
		}
	}
	return samples
}

func postIngest(t *testing.T, h *Handler, samples []spectrum.Sample) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(IngestRequest{Samples: samples})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, req)
	return rr
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp["message"]
}

type fakeChecker struct {
	used, limit int64
	err         error
}

func (f fakeChecker) GetUsage() (int64, error) { return f.used, f.err }
func (f fakeChecker) GetLimit() int64          { return f.limit }

func TestHandleIngest_Success(t *testing.T) {
	store := memory.New()
	handler := NewHandler(store, config.DefaultPolicy())

	rr := postIngest(t, handler, append(testSamples("AGBT24A_001_01", "Rcvr1_2", 10), testSamples("AGBT24A_002_01", "Rcvr2_3", 5)...))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 15, resp.Count)
	require.Equal(t, []string{"AGBT24A_001_01", "AGBT24A_002_01"}, resp.Sessions)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 15, stats.TotalSamples)
}

func TestHandleIngest_TooManySamples(t *testing.T) {
	handler := NewHandler(memory.New(), nil)

	rr := postIngest(t, handler, testSamples("s", "Rcvr1_2", MaxSamplesPerRequest+1))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, decodeMessage(t, rr), "too many samples")
}

func TestHandleIngest_InvalidSample(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*spectrum.Sample)
		want   string
	}{
		{"empty session", func(s *spectrum.Sample) { s.Session = "" }, "session cannot be empty"},
		{"long session", func(s *spectrum.Sample) { s.Session = strings.Repeat("x", MaxSessionNameLength+1) }, "session name too long"},
		{"empty receiver", func(s *spectrum.Sample) { s.Receiver = "" }, "receiver cannot be empty"},
		{"negative frequency", func(s *spectrum.Sample) { s.Frequency = -3 }, "frequency must be"},
		{"zero timestamp", func(s *spectrum.Sample) { s.Timestamp = time.Time{} }, "timestamp out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(memory.New(), nil)
			samples := testSamples("s", "Rcvr1_2", 3)
			tt.mutate(&samples[1])

			rr := postIngest(t, handler, samples)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			msg := decodeMessage(t, rr)
			require.Contains(t, msg, "sample 1")
			require.Contains(t, msg, tt.want)
		})
	}
}

func TestValidateSample_NonFinite(t *testing.T) {
	s := testSamples("s", "Rcvr1_2", 1)[0]
	s.Intensity = math.Inf(1)
	require.True(t, errors.Is(ValidateSample(s, scanTime), ErrInvalidIntensity))

	s.Intensity = 1
	s.Frequency = math.NaN()
	require.True(t, errors.Is(ValidateSample(s, scanTime), ErrInvalidFrequency))
}

func TestHandleIngest_UnknownReceiver(t *testing.T) {
	handler := NewHandler(memory.New(), config.DefaultPolicy())

	rr := postIngest(t, handler, testSamples("s", "Rcvr99", 2))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, decodeMessage(t, rr), "unknown receiver")
}

func TestHandleIngest_ReceiverMismatch(t *testing.T) {
	handler := NewHandler(memory.New(), config.DefaultPolicy())

	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("s", "Rcvr1_2", 2)).Code)
	rr := postIngest(t, handler, testSamples("s", "Rcvr2_3", 2))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleIngest_StorageLimit(t *testing.T) {
	store := memory.New()
	handler := NewHandler(store, nil)
	handler.SetStorageChecker(fakeChecker{used: 2048, limit: 1024})

	rr := postIngest(t, handler, testSamples("s", "Rcvr1_2", 2))
	require.Equal(t, http.StatusInsufficientStorage, rr.Code)
	require.Contains(t, decodeMessage(t, rr), "storage limit exceeded")

	// Unknown usage does not block writes
	handler.SetStorageChecker(fakeChecker{err: errors.New("stat failed"), limit: 1024})
	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("s", "Rcvr1_2", 2)).Code)
}

func TestHandleIngest_InvalidJSON(t *testing.T) {
	handler := NewHandler(memory.New(), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("{"))
	rr := httptest.NewRecorder()

	handler.HandleIngest(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSessions(t *testing.T) {
	store := memory.New()
	handler := NewHandler(store, config.DefaultPolicy())
	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("a", "Rcvr1_2", 4)).Code)
	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("b", "Rcvr_800", 4)).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions?receivers=RcvrPF_1", nil)
	rr := httptest.NewRecorder()
	handler.HandleSessions(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SessionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "b", resp.Sessions[0].Name)
	require.Equal(t, "PF1", resp.Sessions[0].Label)
	require.True(t, resp.Sessions[0].Stale)

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions?start=soon", nil)
	rr = httptest.NewRecorder()
	handler.HandleSessions(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"field":"start"`)
}

func TestSessionHub_BroadcastsWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewSessionHub()
	go hub.Run(ctx)

	handler := NewHandler(memory.New(), nil)
	handler.SetHub(hub)

	srv := httptest.NewServer(handler.HandleWebSocket(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("live", "Rcvr1_2", 3)).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update SessionUpdate
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, "session_update", update.Type)
	require.Equal(t, "live", update.Session)
	require.Equal(t, 3, update.Written)
}

func TestSessionHub_FiltersByReceiver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewSessionHub()
	go hub.Run(ctx)

	handler := NewHandler(memory.New(), config.DefaultPolicy())
	handler.SetHub(hub)

	srv := httptest.NewServer(handler.HandleWebSocket(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?receivers=Rcvr99", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?receivers=Rcvr2_3", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("lband", "Rcvr1_2", 2)).Code)
	require.Equal(t, http.StatusOK, postIngest(t, handler, testSamples("sband", "Rcvr2_3", 4)).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update SessionUpdate
	require.NoError(t, conn.ReadJSON(&update))
	require.Equal(t, "sband", update.Session)
	require.Equal(t, 4, update.Written)
}
