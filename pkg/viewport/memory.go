package viewport

import (
	"context"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/tiering"
)

// MemorySource serves a full series and its prebuilt levels from memory
type MemorySource struct {
	full  []spectrum.Sample
	tiers tiering.Tiers
}

// NewMemorySource copies and sorts full; tiers may be nil or partial
func NewMemorySource(full []spectrum.Sample, tiers tiering.Tiers) *MemorySource {
	sorted := make([]spectrum.Sample, len(full))
	copy(sorted, full)
	spectrum.SortByFrequency(sorted)
	return &MemorySource{full: sorted, tiers: tiers}
}

// Extent reports the size and bounds of the full series
func (m *MemorySource) Extent(ctx context.Context) (Extent, error) {
	if len(m.full) == 0 {
		return Extent{}, nil
	}
	return Extent{
		Total: len(m.full),
		XMin:  m.full[0].Frequency,
		XMax:  m.full[len(m.full)-1].Frequency,
	}, nil
}

// Fetch returns the slice of the full series or of one level
func (m *MemorySource) Fetch(ctx context.Context, lo, hi float64, sel Selection) ([]spectrum.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	window := spectrum.Window(m.full, lo, hi)
	if sel.Exact {
		return append([]spectrum.Sample(nil), window...), nil
	}

	level := m.tiers.Level(sel.Level)
	if len(level) == 0 {
		return nil, ErrTierUnavailable
	}
	return spectrum.Filter(window, level), nil
}

// Reduce serves one viewport of an in-memory series with the default policy
func Reduce(full []spectrum.Sample, tiers tiering.Tiers, vp Viewport) (*Result, error) {
	reducer, err := NewReducerForPolicy(config.DefaultPolicy(), nil)
	if err != nil {
		return nil, err
	}
	return reducer.Reduce(context.Background(), NewMemorySource(full, tiers), vp, nil)
}
