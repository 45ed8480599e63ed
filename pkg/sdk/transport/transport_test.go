package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

func TestNewHTTP(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr bool
	}{
		{"plain", "http://localhost:8080", "http://localhost:8080", false},
		{"trailing slash", "http://localhost:8080/", "http://localhost:8080", false},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := NewHTTP(tt.baseURL, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHTTP() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && transport.baseURL != tt.want {
				t.Errorf("baseURL = %q, want %q", transport.baseURL, tt.want)
			}
		})
	}
}

func TestHTTPTransport_Send(t *testing.T) {
	var received struct {
		Samples []spectrum.Sample `json:"samples"`
	}
	var auth, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewHTTP(server.URL, "secret-key")
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}

	samples := []spectrum.Sample{
		{Frequency: 1400.5, Intensity: 2.5, Timestamp: time.Now(), Session: "S1", Receiver: "Rcvr1_2"},
		{Frequency: 1401.0, Intensity: 3.0, Timestamp: time.Now(), Session: "S1", Receiver: "Rcvr1_2"},
	}
	if err := transport.Send(context.Background(), samples); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if path != IngestPath {
		t.Errorf("path = %q, want %q", path, IngestPath)
	}
	if auth != "Bearer secret-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if len(received.Samples) != 2 || received.Samples[1].Frequency != 1401.0 {
		t.Errorf("received %+v", received.Samples)
	}
}

func TestHTTPTransport_SendEmpty(t *testing.T) {
	transport, _ := NewHTTP("http://127.0.0.1:1", "")
	if err := transport.Send(context.Background(), nil); err != nil {
		t.Errorf("Send(nil) error = %v, want nil", err)
	}
}

func TestHTTPTransport_StatusError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		field     string
		retryable bool
	}{
		{"validation", http.StatusBadRequest, "receiver", false},
		{"storage full", http.StatusInsufficientStorage, "", true},
		{"server error", http.StatusInternalServerError, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httpx.RespondFieldError(w, tt.status, tt.field, "nope")
			}))
			defer server.Close()

			transport, _ := NewHTTP(server.URL, "")
			err := transport.Send(context.Background(), []spectrum.Sample{{Frequency: 1, Session: "S", Receiver: "R"}})

			var serr *StatusError
			if !errors.As(err, &serr) {
				t.Fatalf("error = %v, want *StatusError", err)
			}
			if serr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", serr.StatusCode, tt.status)
			}
			if serr.Message != "nope" || serr.Field != tt.field {
				t.Errorf("Message/Field = %q/%q", serr.Message, serr.Field)
			}
			if serr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", serr.Retryable(), tt.retryable)
			}
		})
	}
}

func TestHTTPTransport_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	transport, _ := NewHTTP(server.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := transport.Send(ctx, []spectrum.Sample{{Frequency: 1, Session: "S", Receiver: "R"}})
	if err == nil {
		t.Fatal("Send() should fail when the context expires")
	}
}
