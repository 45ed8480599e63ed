// Package planner turns plot filters into bounded store requests.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

const day = 24 * time.Hour

// Filters is what a user asks to plot. Zero values leave a filter unset.
type Filters struct {
	Receivers []string  `json:"receivers"`
	Sessions  []string  `json:"sessions,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	End       time.Time `json:"end,omitempty"`
	FreqLow   float64   `json:"freq_low,omitempty"`
	FreqHigh  float64   `json:"freq_high,omitempty"`
}

// Plan is a validated, bounded request against the store
type Plan struct {
	Filters   Filters   `json:"filters"`
	Receivers []string  `json:"receivers"`
	Sessions  []string  `json:"sessions,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	FreqLow   float64   `json:"freq_low,omitempty"`
	FreqHigh  float64   `json:"freq_high,omitempty"`

	// Capped is set when the requested span was shortened to the maximum
	Capped bool `json:"capped"`

	// FellBack is set when the plan moved to the latest earlier session
	FellBack bool `json:"fell_back"`

	Summary storage.Summary `json:"summary"`
}

// Request returns the store request covering the plan
func (p *Plan) Request() storage.QueryRequest {
	return storage.QueryRequest{
		Sessions:  p.Sessions,
		Receivers: p.Receivers,
		Start:     p.Start,
		End:       p.End,
		FreqLow:   p.FreqLow,
		FreqHigh:  p.FreqHigh,
	}
}

// Planner validates filters and sizes requests before any rows are read
type Planner struct {
	store   storage.Storage
	policy  *config.Policy
	maxRows int
	maxSpan time.Duration
	now     func() time.Time
}

// New creates a planner with the policy's caps
func New(store storage.Storage, policy *config.Policy) *Planner {
	maxRows := policy.MaxQueryRows
	if maxRows <= 0 {
		maxRows = config.MaxQueryRows
	}
	maxSpan := time.Duration(policy.MaxSpanDays) * day
	if maxSpan <= 0 {
		maxSpan = config.MaxQuerySpan
	}
	return &Planner{
		store:   store,
		policy:  policy,
		maxRows: maxRows,
		maxSpan: maxSpan,
		now:     time.Now,
	}
}

// Plan validates filters, resolves dates to sessions and estimates the row
// count. It fails fast with ErrQueryTooLarge instead of reading rows.
func (p *Planner) Plan(ctx context.Context, f Filters) (*Plan, error) {
	plan, err := p.plan(ctx, f)
	if err != nil {
		planRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}
	estimatedRows.Observe(float64(plan.Summary.Count))
	return plan, nil
}

func (p *Planner) plan(ctx context.Context, f Filters) (*Plan, error) {
	if err := p.validate(f); err != nil {
		return nil, err
	}

	receivers, err := p.policy.Expand(f.Receivers)
	if err != nil {
		return nil, &FieldError{Field: "receivers", Message: err.Error(), Err: err}
	}

	plan := &Plan{
		Filters:   f,
		Receivers: receivers,
		Sessions:  f.Sessions,
		FreqLow:   f.FreqLow,
		FreqHigh:  f.FreqHigh,
	}

	switch {
	case !f.Date.IsZero():
		if err := p.resolveDate(ctx, plan, f.Date); err != nil {
			return nil, err
		}
	case f.Start.IsZero() && f.End.IsZero():
		// Nothing chosen: show the most recent session
		if err := p.resolveLatest(ctx, plan, time.Time{}); err != nil {
			return nil, err
		}
	default:
		p.resolveRange(plan, f.Start, f.End)
	}

	summary, err := p.store.Summarize(ctx, plan.Request())
	if err != nil {
		return nil, fmt.Errorf("failed to estimate rows: %w", err)
	}

	// One fallback: the latest session before the end of an empty range
	explicitRange := f.Date.IsZero() && (!f.Start.IsZero() || !f.End.IsZero())
	if summary.Count == 0 && explicitRange {
		if err := p.resolveLatest(ctx, plan, plan.End); err != nil {
			return nil, err
		}
		plan.FellBack = true
		summary, err = p.store.Summarize(ctx, plan.Request())
		if err != nil {
			return nil, fmt.Errorf("failed to estimate rows: %w", err)
		}
	}

	if summary.Count == 0 {
		return nil, fmt.Errorf("%w: no samples match the selected receivers, dates and frequencies", ErrNoDataInRange)
	}
	if summary.Count > p.maxRows {
		return nil, fmt.Errorf("%w: %d samples exceed the limit of %d, narrow the receivers, dates or frequency range",
			ErrQueryTooLarge, summary.Count, p.maxRows)
	}

	plan.Summary = *summary
	return plan, nil
}

func (p *Planner) validate(f Filters) error {
	if len(f.Receivers) == 0 {
		return fieldError("receivers", "select at least one receiver")
	}
	if !f.Date.IsZero() && (!f.Start.IsZero() || !f.End.IsZero()) {
		return fieldError("date", "choose either a single date or a date range, not both")
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End) {
		return fieldError("start", "start date must not be after end date")
	}
	for _, freq := range []struct {
		field string
		value float64
	}{{"freq_low", f.FreqLow}, {"freq_high", f.FreqHigh}} {
		if freq.value < 0 || math.IsNaN(freq.value) || math.IsInf(freq.value, 0) {
			return fieldError(freq.field, "frequency must be a non-negative number")
		}
	}
	if f.FreqLow != 0 && f.FreqHigh != 0 && f.FreqLow > f.FreqHigh {
		return fieldError("freq_low", "low frequency must not be above high frequency")
	}
	return nil
}

// resolveRange fills open range ends and caps the span
func (p *Planner) resolveRange(plan *Plan, start, end time.Time) {
	if end.IsZero() {
		end = p.now()
	}
	if start.IsZero() || end.Sub(start) > p.maxSpan {
		plan.Capped = !start.IsZero()
		start = end.Add(-p.maxSpan)
	}
	plan.Start, plan.End = start, end
}

// resolveDate moves a target date to the nearest session on or before it
func (p *Planner) resolveDate(ctx context.Context, plan *Plan, date time.Time) error {
	target := truncateDay(date)
	if err := p.resolveLatest(ctx, plan, target.Add(day-time.Nanosecond)); err != nil {
		return err
	}
	plan.FellBack = !plan.Start.Equal(target)
	return nil
}

// resolveLatest scopes the plan to the day of the newest session starting
// on or before before. A zero before means no limit.
func (p *Planner) resolveLatest(ctx context.Context, plan *Plan, before time.Time) error {
	sessions, err := p.store.Sessions(ctx, storage.SessionFilter{
		Names:     plan.Sessions,
		Receivers: plan.Receivers,
	})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var latest *storage.SessionInfo
	for i := range sessions {
		info := &sessions[i]
		if !before.IsZero() && info.Start.After(before) {
			continue
		}
		if latest == nil || info.Start.After(latest.Start) {
			latest = info
		}
	}
	if latest == nil {
		return fmt.Errorf("%w: no data previous to the specified date", ErrNoDataInRange)
	}

	plan.Start = truncateDay(latest.Start)
	plan.End = plan.Start.Add(day - time.Nanosecond)
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Fetch reads the plan's rows, averages duplicates and splits them per session
func (p *Planner) Fetch(ctx context.Context, plan *Plan) ([]spectrum.Series, error) {
	rows, err := p.store.Query(ctx, plan.Request())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	return spectrum.GroupBySession(spectrum.Normalize(rows)), nil
}

func rejectionReason(err error) string {
	var fe *FieldError
	switch {
	case errors.Is(err, ErrQueryTooLarge):
		return "too_large"
	case errors.Is(err, ErrNoDataInRange):
		return "no_data"
	case errors.As(err, &fe):
		return "invalid"
	default:
		return "error"
	}
}
