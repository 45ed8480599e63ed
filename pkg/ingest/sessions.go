package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/storage"
)

const (
	listTimeout  = 5 * time.Second
	statsTimeout = 5 * time.Second
)

// SessionsResponse lists stored sessions
type SessionsResponse struct {
	Sessions []SessionEntry `json:"sessions"`
	Count    int            `json:"count"`
}

// SessionEntry is one listed session
type SessionEntry struct {
	storage.SessionInfo
	Label string `json:"label"`
	Stale bool   `json:"stale"`
}

// HandleSessions handles GET /v1/sessions.
// Query params: receivers (comma separated), start, end, stale=true.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	start, err := httpx.ParseTime(query.Get("start"))
	if err != nil {
		httpx.RespondFieldError(w, http.StatusBadRequest, "start", err.Error())
		return
	}
	end, err := httpx.ParseTime(query.Get("end"))
	if err != nil {
		httpx.RespondFieldError(w, http.StatusBadRequest, "end", err.Error())
		return
	}

	filter := storage.SessionFilter{
		Receivers: httpx.SplitList(query["receivers"]),
		Start:     start,
		End:       end,
	}
	if h.policy != nil && len(filter.Receivers) > 0 {
		expanded, err := h.policy.Expand(filter.Receivers)
		if err != nil {
			httpx.RespondFieldError(w, http.StatusBadRequest, "receivers", err.Error())
			return
		}
		filter.Receivers = expanded
	}
	staleOnly := query.Get("stale") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	infos, err := h.storage.Sessions(ctx, filter)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to list sessions: %w", err))
		return
	}

	resp := SessionsResponse{Sessions: make([]SessionEntry, 0, len(infos))}
	for _, info := range infos {
		if staleOnly && !info.Stale() {
			continue
		}
		label := info.Receiver
		if h.policy != nil {
			label = h.policy.Label(info.Receiver)
		}
		resp.Sessions = append(resp.Sessions, SessionEntry{SessionInfo: info, Label: label, Stale: info.Stale()})
	}
	resp.Count = len(resp.Sessions)

	w.Header().Set("Cache-Control", "no-cache")
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	stats, err := h.storage.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to read stats: %w", err))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}
