package viewport

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

// ExactTier labels results served from the undecimated slice
const ExactTier = "exact"

// Source yields the rows behind a viewport
type Source interface {
	// Extent reports the size and frequency bounds of the full series
	Extent(ctx context.Context) (Extent, error)

	// Fetch returns rows with lo <= frequency <= hi for the selection.
	// It returns ErrTierUnavailable when the requested level was never built.
	Fetch(ctx context.Context, lo, hi float64, sel Selection) ([]spectrum.Sample, error)
}

// Result is one reduced viewport, ready for a renderer
type Result struct {
	Points    []spectrum.Sample `json:"points"`
	Tier      string            `json:"tier"`
	Level     int               `json:"level"`
	Exact     bool              `json:"exact"`
	Derived   bool              `json:"derived"`
	Requeried bool              `json:"requeried"`
	Ratio     float64           `json:"density_ratio"`

	// Total is the source's estimated row count for the whole extent
	Total int `json:"total"`

	// Dropped estimates the rows inside the viewport that were not returned:
	// the density ratio's displayed count minus len(Points), floored at zero.
	// It is derived from Total, not from the rows fetched, so duplicate scans
	// averaged into one point count as dropped.
	Dropped int `json:"dropped"`

	Viewport Viewport `json:"viewport"`
}

// Series splits the points into one line per session
func (r *Result) Series() []spectrum.Series {
	return spectrum.GroupBySession(r.Points)
}

// Reducer serves viewports from view levels, derived levels or exact slices
type Reducer struct {
	bands          Bands
	names          []string
	strategy       tiering.Strategy
	padFraction    float64
	pointsPerPixel int
}

// NewReducer creates a reducer. names label the view levels; strategy is
// used to derive a level that was never built.
func NewReducer(bands Bands, names []string, strategy tiering.Strategy) *Reducer {
	return &Reducer{
		bands:          bands,
		names:          names,
		strategy:       strategy,
		padFraction:    config.DefaultPadFraction,
		pointsPerPixel: config.DerivedPointsPerPixel,
	}
}

// NewReducerForPolicy builds a reducer from the loaded policy. With the
// prominence strategy, derived levels use the smallest prominence among receivers.
func NewReducerForPolicy(policy *config.Policy, receivers []string) (*Reducer, error) {
	bands, err := NewBands(policy.DensityBounds)
	if err != nil {
		return nil, err
	}

	kind, err := tiering.ParseStrategy(policy.Strategy)
	if err != nil {
		return nil, err
	}
	opts := tiering.StrategyOptions{ThresholdMultiplier: policy.ThresholdMultiplier}
	if kind == tiering.KindProminence {
		opts.Prominence, err = policy.MinProminence(receivers)
		if err != nil {
			return nil, err
		}
	}
	strategy, err := tiering.NewStrategy(kind, opts)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(policy.Tiers))
	for i, t := range policy.Tiers {
		names[i] = t.Name
	}

	r := NewReducer(bands, names, strategy)
	r.padFraction = policy.PadFraction
	return r, nil
}

// Reduce serves one viewport. Rows already fetched by sess at the same
// selection are filtered in memory; otherwise the source is queried with the
// range padded on both sides. sess may be nil for one-off requests.
func (r *Reducer) Reduce(ctx context.Context, src Source, vp Viewport, sess *Session) (*Result, error) {
	if err := vp.Validate(); err != nil {
		return nil, err
	}
	if sess == nil {
		sess = NewSession()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.extent == nil {
		ext, err := src.Extent(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read extent: %w", err)
		}
		sess.extent = &ext
	}
	ext := *sess.extent

	result := &Result{
		Points:   []spectrum.Sample{},
		Level:    -1,
		Total:    ext.Total,
		Viewport: vp,
	}
	if ext.Total == 0 {
		result.Tier = ExactTier
		result.Exact = true
		sess.last = &vp
		observeReduction(result)
		return result, nil
	}

	result.Ratio = DensityRatio(ext, vp)
	sel := r.bands.Select(result.Ratio)

	if !sess.fetch.covers(sel, vp.XMin, vp.XMax) {
		f, err := r.fetch(ctx, src, vp, sel)
		if err != nil {
			return nil, err
		}
		sess.fetch = f
		result.Requeried = true
	}

	window := spectrum.Window(sess.fetch.rows, vp.XMin, vp.XMax)
	result.Points = append(result.Points, window...)
	result.Level = sel.Level
	result.Exact = sel.Exact
	result.Derived = sess.fetch.derived
	result.Tier = r.tierName(sel)

	displayed := result.Ratio * float64(vp.PixelWidth)
	if dropped := int(math.Round(displayed)) - len(result.Points); dropped > 0 {
		result.Dropped = dropped
	}

	sess.last = &vp
	observeReduction(result)
	return result, nil
}

func (r *Reducer) fetch(ctx context.Context, src Source, vp Viewport, sel Selection) (*fetched, error) {
	pad := vp.Span() * r.padFraction
	f := &fetched{sel: sel, lo: vp.XMin - pad, hi: vp.XMax + pad}

	rows, err := src.Fetch(ctx, f.lo, f.hi, sel)
	if errors.Is(err, ErrTierUnavailable) {
		rows, err = src.Fetch(ctx, f.lo, f.hi, Selection{Level: -1, Exact: true})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch rows to derive %s: %w", r.tierName(sel), err)
		}
		rows = r.derive(rows, r.derivedBudget(vp, rows))
		f.derived = true
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", r.tierName(sel), err)
	}

	spectrum.SortByFrequency(rows)
	f.rows = rows
	return f, nil
}

// derivedBudget sizes an on-the-fly level for the width the rows cover
func (r *Reducer) derivedBudget(vp Viewport, rows []spectrum.Sample) int {
	budget := vp.PixelWidth * r.pointsPerPixel
	xmin, xmax, _, _, ok := spectrum.Bounds(rows)
	if span := vp.Span(); ok && span > 0 && xmax-xmin > span {
		budget = int(float64(budget) * (xmax - xmin) / span)
	}
	return budget
}

// derive reduces each session separately so every line keeps its own shape
func (r *Reducer) derive(rows []spectrum.Sample, budget int) []spectrum.Sample {
	var out []spectrum.Sample
	for _, series := range spectrum.GroupBySession(rows) {
		keep := r.strategy.Reduce(series.Samples, budget)
		out = append(out, spectrum.Filter(series.Samples, keep)...)
	}
	return out
}

func (r *Reducer) tierName(sel Selection) string {
	if sel.Exact {
		return ExactTier
	}
	if sel.Level >= 0 && sel.Level < len(r.names) {
		return r.names[sel.Level]
	}
	return fmt.Sprintf("view_level_%d", sel.Level)
}
