package tiering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// baseline builds n samples around intensity 1 with a gentle ripple
func baseline(n int) []spectrum.Sample {
	series := make([]spectrum.Sample, n)
	for i := range series {
		series[i] = spectrum.Sample{
			ID:        uint64(i + 1),
			Frequency: float64(i) * 0.001,
			Intensity: 1 + 0.1*math.Sin(float64(i)*0.01),
			Session:   "S1",
			Receiver:  "Rcvr1_2",
		}
	}
	return series
}

func mustStrategy(t *testing.T, kind Kind) Strategy {
	t.Helper()
	s, err := NewStrategy(kind, StrategyOptions{ThresholdMultiplier: 5, Prominence: 0.5})
	require.NoError(t, err)
	return s
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"peaks", KindPeaks, false},
		{"stride", KindStride, false},
		{" Mean ", KindMean, false},
		{"prominence", KindProminence, false},
		{"scipy", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStrategy(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStride(t *testing.T) {
	tests := []struct {
		n, budget, want int
	}{
		{1000000, 2000, 500},
		{1000, 2000, 1},
		{2000, 2000, 1},
		{4999, 1000, 4},
		{10, 0, 1},
		{0, 10, 1},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Stride(tt.n, tt.budget), "n=%d budget=%d", tt.n, tt.budget)
	}
}

func TestMedian(t *testing.T) {
	require.Equal(t, 0.0, Median(nil))
	require.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	require.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	values := []float64{9, 8, 7}
	Median(values)
	require.Equal(t, []float64{9, 8, 7}, values, "input must not be reordered")
}

func TestBuild_SpikesSurviveDecimation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping million-sample build in short mode")
	}

	series := baseline(1000000)
	spikes := []int{123457, 333333, 500001, 777777, 999001}
	for _, i := range spikes {
		series[i].Intensity = 100
	}

	tiers := NewBuilder(mustStrategy(t, KindPeaks)).Build(series, []int{2000})
	require.Len(t, tiers, 1)

	for _, i := range spikes {
		require.True(t, tiers[0].Has(series[i].ID), "spike at index %d dropped", i)
	}
	// 2,000 stride samples plus at most the five spikes
	require.GreaterOrEqual(t, len(tiers[0]), 2000)
	require.LessOrEqual(t, len(tiers[0]), 2005)
}

func TestBuild_ZeroRows(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			tiers := NewBuilder(mustStrategy(t, kind)).Build(nil, []int{10, 100, 1000})
			require.Len(t, tiers, 3)
			for _, set := range tiers {
				require.NotNil(t, set)
				require.Empty(t, set)
			}
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	series := baseline(20000)
	for i := 100; i < len(series); i += 1733 {
		series[i].Intensity = 40 + float64(i%9)
	}

	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			b := NewBuilder(mustStrategy(t, kind))
			first := b.Build(series, []int{100, 1000})
			second := b.Build(series, []int{100, 1000})
			for level := range first {
				require.Equal(t, first[level].Sorted(), second[level].Sorted())
			}
		})
	}
}

func TestBuild_MonotoneBudget(t *testing.T) {
	series := baseline(5000)
	for i := 250; i < len(series); i += 900 {
		series[i].Intensity = 50
	}
	budgets := []int{10, 100, 1000}

	sizes := NewBuilder(mustStrategy(t, KindStride)).Build(series, budgets).Sizes()
	require.Equal(t, []int{10, 100, 1000}, sizes)

	// Peak unions may add a handful of members to any level
	sizes = NewBuilder(mustStrategy(t, KindPeaks)).Build(series, budgets).Sizes()
	slack := 6
	for i := 1; i < len(sizes); i++ {
		require.LessOrEqual(t, sizes[i-1], sizes[i]+slack)
	}
	require.Less(t, sizes[0], sizes[2])
}

func TestMeanStrategy_PicksClosestToBucketMean(t *testing.T) {
	series := []spectrum.Sample{
		{ID: 1, Intensity: 1}, {ID: 2, Intensity: 5}, {ID: 3, Intensity: 3},
		{ID: 4, Intensity: 10}, {ID: 5, Intensity: 0}, {ID: 6, Intensity: 6},
	}

	got := mustStrategy(t, KindMean).Reduce(series, 2)
	// buckets [1 5 3] mean 3 -> ID 3, [10 0 6] mean 5.33 -> ID 6
	require.Equal(t, []uint64{3, 6}, got.Sorted())
}

func TestProminenceStrategy_KeepsProminentPeaks(t *testing.T) {
	series := baseline(1000)
	series[501].Intensity = 3   // prominence ~2, kept
	series[703].Intensity = 1.2 // small bump, below prominence 0.5

	got := mustStrategy(t, KindProminence).Reduce(series, 10)
	require.True(t, got.Has(series[501].ID))
	require.False(t, got.Has(series[703].ID))
}

func TestTiers_Flags(t *testing.T) {
	tiers := Tiers{
		spectrum.NewIDSet(1, 2),
		spectrum.NewIDSet(2, 3),
	}

	flags := tiers.Flags()
	require.Equal(t, spectrum.LevelMask(0), flags[1])
	require.Equal(t, spectrum.LevelMask(0)|spectrum.LevelMask(1), flags[2])
	require.Equal(t, spectrum.LevelMask(1), flags[3])
	require.Nil(t, tiers.Level(5))
}

func TestBudgets(t *testing.T) {
	specs := config.DefaultPolicy().Tiers

	require.Equal(t, []int{1250, 9000, 40000, 100000}, Budgets(specs, 1000000))
	require.Equal(t, []int{1250, 1250, 1250, 1250}, Budgets(specs, 10000))
	require.Equal(t, []int{1250, 1250, 1250, 1250}, Budgets(specs, 0))
}
