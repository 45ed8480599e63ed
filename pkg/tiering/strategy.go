package tiering

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/peaks"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Kind names a reduction strategy
type Kind string

const (
	KindStride     Kind = "stride"     // Every stride-th sample
	KindPeaks      Kind = "peaks"      // Stride samples plus peaks above the median threshold
	KindMean       Kind = "mean"       // Per bucket, the sample closest to the bucket mean
	KindProminence Kind = "prominence" // Stride samples plus peaks above the receiver prominence
)

// Kinds lists every strategy in a stable order
var Kinds = []Kind{KindStride, KindPeaks, KindMean, KindProminence}

// ParseStrategy maps a configured name to a strategy kind
func ParseStrategy(name string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range Kinds {
		if k == kind {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown reduction strategy %q", name)
}

// Strategy reduces one ordered series to at most roughly budget samples.
// Implementations must be deterministic and never return an error: an empty
// series yields an empty set.
type Strategy interface {
	Kind() Kind
	Reduce(series []spectrum.Sample, budget int) spectrum.IDSet
}

// StrategyOptions parameterise the strategies that need them
type StrategyOptions struct {
	// ThresholdMultiplier scales the median intensity into the peak height floor
	ThresholdMultiplier float64

	// Prominence is the minimum peak prominence for KindProminence
	Prominence float64
}

// NewStrategy builds the strategy for kind
func NewStrategy(kind Kind, opts StrategyOptions) (Strategy, error) {
	if opts.ThresholdMultiplier <= 0 {
		opts.ThresholdMultiplier = config.DefaultThresholdMultiplier
	}

	switch kind {
	case KindStride:
		return strideStrategy{}, nil
	case KindPeaks:
		return peakStrategy{multiplier: opts.ThresholdMultiplier}, nil
	case KindMean:
		return meanStrategy{}, nil
	case KindProminence:
		return prominenceStrategy{prominence: opts.Prominence}, nil
	default:
		return nil, fmt.Errorf("unknown reduction strategy %q", kind)
	}
}

// Stride returns the decimation step for n samples and a budget
func Stride(n, budget int) int {
	if budget <= 0 || n <= budget {
		return 1
	}
	return n / budget
}

// Median returns the median of values, averaging the middle pair for even lengths
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func strideSet(series []spectrum.Sample, stride int) spectrum.IDSet {
	ids := spectrum.NewIDSet()
	for i := 0; i < len(series); i += stride {
		ids.Add(series[i].ID)
	}
	return ids
}

type strideStrategy struct{}

func (strideStrategy) Kind() Kind { return KindStride }

func (strideStrategy) Reduce(series []spectrum.Sample, budget int) spectrum.IDSet {
	if len(series) == 0 {
		return spectrum.NewIDSet()
	}
	return strideSet(series, Stride(len(series), budget))
}

type peakStrategy struct {
	multiplier float64
}

func (peakStrategy) Kind() Kind { return KindPeaks }

func (p peakStrategy) Reduce(series []spectrum.Sample, budget int) spectrum.IDSet {
	if len(series) == 0 {
		return spectrum.NewIDSet()
	}

	stride := Stride(len(series), budget)
	threshold := Median(spectrum.Intensities(series)) * p.multiplier

	found := peaks.FindPeaks(series, peaks.Options{
		MinDistance:  stride,
		MinHeight:    threshold,
		HeightFilter: true,
	})
	ids := strideSet(series, stride)
	ids.Union(found)
	return ids
}

type prominenceStrategy struct {
	prominence float64
}

func (prominenceStrategy) Kind() Kind { return KindProminence }

func (p prominenceStrategy) Reduce(series []spectrum.Sample, budget int) spectrum.IDSet {
	if len(series) == 0 {
		return spectrum.NewIDSet()
	}

	stride := Stride(len(series), budget)
	found := peaks.FindPeaks(series, peaks.Options{
		MinDistance:   stride,
		MinProminence: p.prominence,
	})
	ids := strideSet(series, stride)
	ids.Union(found)
	return ids
}

type meanStrategy struct{}

func (meanStrategy) Kind() Kind { return KindMean }

func (meanStrategy) Reduce(series []spectrum.Sample, budget int) spectrum.IDSet {
	ids := spectrum.NewIDSet()
	if len(series) == 0 {
		return ids
	}

	stride := Stride(len(series), budget)
	ys := spectrum.Intensities(series)
	for start := 0; start < len(series); start += stride {
		end := start + stride
		if end > len(series) {
			end = len(series)
		}

		mean := stat.Mean(ys[start:end], nil)
		best := start
		for i := start + 1; i < end; i++ {
			if math.Abs(ys[i]-mean) < math.Abs(ys[best]-mean) {
				best = i
			}
		}
		ids.Add(series[best].ID)
	}
	return ids
}
