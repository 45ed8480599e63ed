package explore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/planner"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

const maxRequestBytes = 64 << 10

// Handler serves the exploration endpoints
type Handler struct {
	store    storage.Storage
	policy   *config.Policy
	planner  *planner.Planner
	registry *Registry
}

// NewHandler creates the exploration handler
func NewHandler(store storage.Storage, policy *config.Policy, registry *Registry) *Handler {
	return &Handler{
		store:    store,
		policy:   policy,
		planner:  planner.New(store, policy),
		registry: registry,
	}
}

// CreateRequest opens an exploration: the plot form plus the chart width
type CreateRequest struct {
	planner.Form
	PixelWidth int `json:"pixel_width,omitempty"`
}

// CreateResponse returns the new exploration with its first, full-range view
type CreateResponse struct {
	ID     string           `json:"id"`
	Plan   *planner.Plan    `json:"plan"`
	Extent viewport.Extent  `json:"extent"`
	Result *viewport.Result `json:"result"`
}

// ViewportRequest asks for one viewport. Seq orders requests of one
// exploration; zero opts out of ordering.
type ViewportRequest struct {
	Seq uint64 `json:"seq"`
	viewport.Viewport
}

// ViewportResponse carries a reduction tagged with its request seq
type ViewportResponse struct {
	Seq uint64 `json:"seq"`
	*viewport.Result
}

// HandleCreate handles POST /v1/explore
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	width, err := h.pixelWidth(req.PixelWidth)
	if err != nil {
		httpx.RespondFieldError(w, http.StatusBadRequest, "pixel_width", err.Error())
		return
	}

	filters, err := req.Filters()
	if err != nil {
		planner.RespondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	plan, err := h.planner.Plan(ctx, filters)
	if err != nil {
		planner.RespondError(w, err)
		return
	}

	reducer, err := viewport.NewReducerForPolicy(h.policy, plan.Receivers)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	e, err := h.registry.Create(plan, planner.NewSource(h.store, plan), reducer)
	if err != nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}

	ext, err := e.Extent(ctx)
	if err != nil {
		h.registry.Delete(e.ID)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	result, err := e.Reduce(ctx, ext.Full(width), 0)
	if err != nil {
		h.registry.Delete(e.ID)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to reduce: %w", err))
		return
	}

	log.Printf("Opened exploration %s over %d samples (%s)", e.ID, plan.Summary.Count, result.Tier)
	httpx.RespondJSON(w, http.StatusCreated, CreateResponse{
		ID:     e.ID,
		Plan:   plan,
		Extent: ext,
		Result: result,
	})
}

// HandleViewport handles POST /v1/explore/{id}/viewport
func (h *Handler) HandleViewport(w http.ResponseWriter, r *http.Request) {
	e, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	}

	var req ViewportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.PixelWidth, err = h.pixelWidth(req.PixelWidth); err != nil {
		httpx.RespondFieldError(w, http.StatusBadRequest, "pixel_width", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	result, err := e.Reduce(ctx, req.Viewport, req.Seq)
	if err != nil {
		httpx.RespondError(w, reduceStatus(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, ViewportResponse{Seq: req.Seq, Result: result})
}

// HandleDelete handles DELETE /v1/explore/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Delete(mux.Vars(r)["id"]) {
		httpx.RespondError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pixelWidth(width int) (int, error) {
	switch {
	case width == 0:
		return h.policy.PixelWidth, nil
	case width < 0 || width > config.MaxPixelWidth:
		return 0, fmt.Errorf("pixel width must be between 1 and %d", config.MaxPixelWidth)
	default:
		return width, nil
	}
}

func reduceStatus(err error) int {
	switch {
	case errors.Is(err, viewport.ErrStaleRequest):
		return http.StatusConflict
	case errors.Is(err, viewport.ErrInvalidViewport):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
