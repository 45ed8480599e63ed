package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/planner"
	"github.com/nicktill/rfiscope/pkg/render"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

// ErrTooManyPoints is returned when a reduced plot still exceeds the point cap
var ErrTooManyPoints = errors.New("too many points to plot; narrow the frequency range or pick fewer receivers")

// PlotHandler serves one-shot plots of a whole plan
type PlotHandler struct {
	store     storage.Storage
	policy    *config.Policy
	planner   *planner.Planner
	maxPoints int
	group     singleflight.Group
}

// NewPlotHandler creates the plot handler
func NewPlotHandler(store storage.Storage, policy *config.Policy) *PlotHandler {
	maxPoints := policy.MaxPointsToPlot
	if maxPoints <= 0 {
		maxPoints = config.MaxPointsToPlot
	}
	return &PlotHandler{
		store:     store,
		policy:    policy,
		planner:   planner.New(store, policy),
		maxPoints: maxPoints,
	}
}

// PlotResponse holds the descriptors a client draws
type PlotResponse struct {
	Plan    *planner.Plan    `json:"plan"`
	Tier    string           `json:"tier"`
	Points  int              `json:"points"`
	Plot    *render.LinePlot `json:"plot"`
	Heatmap *render.Heatmap  `json:"heatmap,omitempty"`
}

type plotRequest struct {
	form    planner.Form
	width   int
	heatmap bool
}

// HandlePlot handles GET /v1/plot
func (h *PlotHandler) HandlePlot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	form, err := planner.FormFromQuery(q)
	if err != nil {
		planner.RespondError(w, err)
		return
	}

	width, err := httpx.ParseInt(q.Get("width"), h.policy.PixelWidth)
	if err != nil || width < 1 || width > config.MaxPixelWidth {
		httpx.RespondFieldError(w, http.StatusBadRequest, "width",
			fmt.Sprintf("width must be between 1 and %d", config.MaxPixelWidth))
		return
	}

	var heatmap bool
	if v := q.Get("heatmap"); v != "" {
		if heatmap, err = strconv.ParseBool(v); err != nil {
			httpx.RespondFieldError(w, http.StatusBadRequest, "heatmap", "heatmap must be true or false")
			return
		}
	}

	req := plotRequest{form: form, width: width, heatmap: heatmap}

	// Identical concurrent plots share one build; a caller leaving early
	// must not cancel it for the others.
	v, err, shared := h.group.Do(q.Encode(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), config.PlotTimeout)
		defer cancel()
		return h.build(ctx, req)
	})
	if shared {
		plotsCoalesced.Inc()
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, v)
}

func (h *PlotHandler) build(ctx context.Context, req plotRequest) (*PlotResponse, error) {
	filters, err := req.form.Filters()
	if err != nil {
		return nil, err
	}

	plan, err := h.planner.Plan(ctx, filters)
	if err != nil {
		return nil, err
	}

	src := planner.NewSource(h.store, plan)
	reducer, err := viewport.NewReducerForPolicy(h.policy, plan.Receivers)
	if err != nil {
		return nil, err
	}

	ext, err := src.Extent(ctx)
	if err != nil {
		return nil, err
	}
	result, err := reducer.Reduce(ctx, src, ext.Full(req.width), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce: %w", err)
	}
	if len(result.Points) > h.maxPoints {
		return nil, fmt.Errorf("%w (%d > %d)", ErrTooManyPoints, len(result.Points), h.maxPoints)
	}

	series := result.Series()
	labels := render.NewLabels(result.Points, plan.Receivers, h.policy)
	resp := &PlotResponse{
		Plan:   plan,
		Tier:   result.Tier,
		Points: len(result.Points),
		Plot:   render.Line(series, labels),
	}
	if req.heatmap {
		resp.Heatmap = render.NewHeatmap(series, labels, render.DefaultBinWidth)
	}

	log.Printf("Plotted %d of %d samples from tier %s (%d sessions)", resp.Points, plan.Summary.Count, result.Tier, len(series))
	return resp, nil
}

func (h *PlotHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTooManyPoints):
		httpx.RespondFieldError(w, http.StatusRequestEntityTooLarge, "freq_high", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondError(w, http.StatusGatewayTimeout, err)
	default:
		planner.RespondError(w, err)
	}
}
