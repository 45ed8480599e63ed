// Package peaks finds local maxima in ordered intensity series.
//
// Detection follows the usual signal-processing pipeline: strict local maxima,
// then the optional height filter, then the minimum distance filter (higher
// peaks win), then the prominence filter. Boundary samples are never peaks.
package peaks

import (
	"sort"

	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Options controls which local maxima are reported
type Options struct {
	// MinProminence is the minimum drop from the peak to its higher base (0 = any)
	MinProminence float64

	// MinDistance is the minimum index gap between reported peaks (<= 1 = no limit)
	MinDistance int

	// MinHeight drops candidates below it when HeightFilter is set
	MinHeight    float64
	HeightFilter bool
}

// FindIndices returns the ascending indices of the peaks of ys
func FindIndices(ys []float64, opts Options) []int {
	if len(ys) < 3 {
		return nil
	}

	candidates := localMaxima(ys)

	if opts.HeightFilter {
		kept := candidates[:0]
		for _, i := range candidates {
			if ys[i] >= opts.MinHeight {
				kept = append(kept, i)
			}
		}
		candidates = kept
	}

	if opts.MinDistance > 1 && len(candidates) > 1 {
		candidates = selectByDistance(ys, candidates, opts.MinDistance)
	}

	if opts.MinProminence > 0 {
		kept := candidates[:0]
		for _, i := range candidates {
			if Prominence(ys, i) >= opts.MinProminence {
				kept = append(kept, i)
			}
		}
		candidates = kept
	}

	return candidates
}

// FindPeaks returns the identities of the peak samples of an ordered series
func FindPeaks(series []spectrum.Sample, opts Options) spectrum.IDSet {
	indices := FindIndices(spectrum.Intensities(series), opts)
	set := make(spectrum.IDSet, len(indices))
	for _, i := range indices {
		set.Add(series[i].ID)
	}
	return set
}

// Prominence measures how far the sample at i stands above its surroundings.
// Each side is scanned until a strictly higher sample or the series edge; the
// higher of the two minima found is the base.
func Prominence(ys []float64, i int) float64 {
	if i <= 0 || i >= len(ys)-1 {
		return 0
	}
	peak := ys[i]

	leftMin := peak
	for j := i - 1; j >= 0 && ys[j] <= peak; j-- {
		if ys[j] < leftMin {
			leftMin = ys[j]
		}
	}

	rightMin := peak
	for j := i + 1; j < len(ys) && ys[j] <= peak; j++ {
		if ys[j] < rightMin {
			rightMin = ys[j]
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return peak - base
}

// localMaxima returns indices strictly greater than both neighbours
func localMaxima(ys []float64) []int {
	var out []int
	for i := 1; i < len(ys)-1; i++ {
		if ys[i] > ys[i-1] && ys[i] > ys[i+1] {
			out = append(out, i)
		}
	}
	return out
}

// selectByDistance removes peaks closer than distance to a higher kept peak.
// Candidates are visited from highest to lowest; equal heights favour the
// lower index.
func selectByDistance(ys []float64, candidates []int, distance int) []int {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ya, yb := ys[candidates[order[a]]], ys[candidates[order[b]]]
		if ya != yb {
			return ya > yb
		}
		return candidates[order[a]] < candidates[order[b]]
	})

	keep := make([]bool, len(candidates))
	for i := range keep {
		keep[i] = true
	}

	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && candidates[j]-candidates[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(candidates) && candidates[k]-candidates[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}
