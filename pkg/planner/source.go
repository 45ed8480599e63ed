package planner

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

// StoreSource serves a plan's rows to the viewport reducer
type StoreSource struct {
	store storage.Storage
	plan  *Plan

	once    sync.Once
	tiered  bool
	tierErr error
}

// NewSource creates a viewport source over the plan
func NewSource(store storage.Storage, plan *Plan) *StoreSource {
	return &StoreSource{store: store, plan: plan}
}

// Extent reports the plan's estimated size and frequency bounds
func (s *StoreSource) Extent(ctx context.Context) (viewport.Extent, error) {
	return viewport.Extent{
		Total: s.plan.Summary.Count,
		XMin:  s.plan.Summary.FreqMin,
		XMax:  s.plan.Summary.FreqMax,
	}, nil
}

// Fetch reads one level (or the exact rows) between lo and hi, normalised.
// Levels are unavailable while any session in the plan has never been tiered.
func (s *StoreSource) Fetch(ctx context.Context, lo, hi float64, sel viewport.Selection) ([]spectrum.Sample, error) {
	req := s.plan.Request()

	if req.FreqLow == 0 || lo > req.FreqLow {
		req.FreqLow = math.Max(lo, 0)
	}
	if req.FreqHigh == 0 || hi < req.FreqHigh {
		req.FreqHigh = hi
	}
	// A non-positive upper bound would read as open
	if req.FreqHigh <= 0 || req.FreqLow > req.FreqHigh {
		return nil, nil
	}

	if !sel.Exact {
		tiered, err := s.allTiered(ctx)
		if err != nil {
			return nil, err
		}
		if !tiered {
			return nil, viewport.ErrTierUnavailable
		}
		req.Tiers = spectrum.LevelMask(sel.Level)
	}

	rows, err := s.store.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	return spectrum.Normalize(rows), nil
}

func (s *StoreSource) allTiered(ctx context.Context) (bool, error) {
	s.once.Do(func() {
		sessions, err := s.store.Sessions(ctx, s.plan.Request().SessionFilter())
		if err != nil {
			s.tierErr = fmt.Errorf("failed to list sessions: %w", err)
			return
		}
		s.tiered = true
		for _, info := range sessions {
			if info.TieredAt.IsZero() {
				s.tiered = false
				return
			}
		}
	})
	return s.tiered, s.tierErr
}
