package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

// maxBodyBytes bounds a full request of MaxSamplesPerRequest samples
const maxBodyBytes = 8 << 20

// StorageChecker reports data directory usage against its limit
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler handles sample ingestion and session listing
type Handler struct {
	storage        storage.Storage
	policy         *config.Policy
	storageChecker StorageChecker
	hub            *SessionHub
	now            func() time.Time
}

// NewHandler creates a new ingest handler.
// Samples for receivers the policy does not know are rejected.
func NewHandler(store storage.Storage, policy *config.Policy) *Handler {
	return &Handler{
		storage: store,
		policy:  policy,
		now:     time.Now,
	}
}

// SetStorageChecker enables rejecting writes once the storage limit is reached
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// SetHub enables session update broadcasts after each write
func (h *Handler) SetHub(hub *SessionHub) {
	h.hub = hub
}

// IngestRequest represents the request payload
type IngestRequest struct {
	Samples []spectrum.Sample `json:"samples"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status   string   `json:"status"`
	Count    int      `json:"count"`
	Sessions []string `json:"sessions,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// SessionUpdate is broadcast to websocket clients after a write
type SessionUpdate struct {
	Type     string    `json:"type"`
	Session  string    `json:"session"`
	Receiver string    `json:"receiver"`
	Written  int       `json:"written"`
	At       time.Time `json:"at"`
}

// HandleIngest handles POST /v1/ingest
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if len(req.Samples) == 0 {
		httpx.RespondJSON(w, http.StatusOK, IngestResponse{Status: "success"})
		return
	}

	if err := ValidateBatch(req.Samples, h.now()); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid sample: %w", err))
		return
	}
	if err := h.checkReceivers(req.Samples); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.checkStorage(); err != nil {
		httpx.RespondError(w, http.StatusInsufficientStorage, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	if _, err := h.storage.Write(ctx, req.Samples); err != nil {
		if errors.Is(err, storage.ErrReceiverMismatch) || errors.Is(err, storage.ErrSessionCollision) {
			httpx.RespondError(w, http.StatusConflict, err)
			return
		}
		log.Printf("❌ Ingest write failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to write samples: %w", err))
		return
	}

	sessions := h.broadcast(req.Samples)
	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Status:   "success",
		Count:    len(req.Samples),
		Sessions: sessions,
	})
}

func (h *Handler) checkReceivers(samples []spectrum.Sample) error {
	if h.policy == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, s := range samples {
		if !seen[s.Receiver] {
			seen[s.Receiver] = true
			names = append(names, s.Receiver)
		}
	}
	return h.policy.CoversReceivers(names)
}

func (h *Handler) checkStorage() error {
	if h.storageChecker == nil {
		return nil
	}
	used, err := h.storageChecker.GetUsage()
	if err != nil {
		// Usage unknown: accept the write rather than block ingestion
		log.Printf("Failed to check storage usage: %v", err)
		return nil
	}
	if limit := h.storageChecker.GetLimit(); limit > 0 && used >= limit {
		return fmt.Errorf("%w: using %d of %d bytes", ErrStorageLimit, used, limit)
	}
	return nil
}

// broadcast notifies the hub once per written session and returns the
// session names in order
func (h *Handler) broadcast(samples []spectrum.Sample) []string {
	counts := make(map[string]*SessionUpdate)
	for _, s := range samples {
		u, ok := counts[s.Session]
		if !ok {
			u = &SessionUpdate{Type: "session_update", Session: s.Session, Receiver: s.Receiver}
			counts[s.Session] = u
		}
		u.Written++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	if h.hub == nil || !h.hub.HasClients() {
		return names
	}
	now := h.now()
	for _, name := range names {
		u := counts[name]
		u.At = now
		if !h.hub.Broadcast(*u) {
			log.Printf("Session update queue full, dropping update for %s", name)
		}
	}
	return names
}
