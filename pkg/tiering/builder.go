package tiering

import (
	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Tiers holds one identity set per view level, level 0 being the coarsest
type Tiers []spectrum.IDSet

// Sizes returns the member count of each level
func (t Tiers) Sizes() []int {
	sizes := make([]int, len(t))
	for i, set := range t {
		sizes[i] = len(set)
	}
	return sizes
}

// Flags folds the levels into per-sample tier masks
func (t Tiers) Flags() map[uint64]spectrum.TierMask {
	flags := make(map[uint64]spectrum.TierMask)
	for level, set := range t {
		mask := spectrum.LevelMask(level)
		for id := range set {
			flags[id] |= mask
		}
	}
	return flags
}

// FlagsFor is Flags for levels built over a normalized series: each merged
// sample's mask is also given to every row averaged into it (see
// spectrum.NormalizeMembers), so reading a level back and normalizing it
// reproduces the averaged values.
func (t Tiers) FlagsFor(members map[uint64][]uint64) map[uint64]spectrum.TierMask {
	flags := t.Flags()
	for id, mask := range flags {
		for _, member := range members[id] {
			flags[member] |= mask
		}
	}
	return flags
}

// Level returns the set for a level, or nil when it was not built
func (t Tiers) Level(level int) spectrum.IDSet {
	if level < 0 || level >= len(t) {
		return nil
	}
	return t[level]
}

// Builder computes view levels for one scope
type Builder struct {
	strategy Strategy
}

// NewBuilder creates a builder using strategy for every level
func NewBuilder(strategy Strategy) *Builder {
	return &Builder{strategy: strategy}
}

// Strategy returns the strategy the builder reduces with
func (b *Builder) Strategy() Strategy {
	return b.strategy
}

// Build reduces an ordered series once per budget. Budgets are expected in
// ascending order so that level 0 is the smallest. An empty series yields
// one empty set per budget.
func (b *Builder) Build(series []spectrum.Sample, budgets []int) Tiers {
	tiers := make(Tiers, len(budgets))
	for i, budget := range budgets {
		if len(series) == 0 {
			tiers[i] = spectrum.NewIDSet()
			continue
		}
		tiers[i] = b.strategy.Reduce(series, budget)
	}
	return tiers
}

// Budgets resolves tier specs against a scope of total samples. A finer
// level never gets a smaller budget than the level before it.
func Budgets(specs []config.TierSpec, total int) []int {
	budgets := make([]int, len(specs))
	for i, spec := range specs {
		budgets[i] = spec.ResolveBudget(total)
		if i > 0 && budgets[i] < budgets[i-1] {
			budgets[i] = budgets[i-1]
		}
	}
	return budgets
}
