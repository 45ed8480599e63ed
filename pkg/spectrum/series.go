package spectrum

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SortByFrequency orders samples by frequency, then timestamp, then identity.
// The secondary keys keep the order deterministic for duplicate frequencies.
func SortByFrequency(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.Frequency != b.Frequency {
			return a.Frequency < b.Frequency
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

// GroupBySession splits samples into one frequency-sorted series per session.
// Series are returned in session name order.
func GroupBySession(samples []Sample) []Series {
	groups := make(map[string][]Sample)
	for _, s := range samples {
		groups[s.Session] = append(groups[s.Session], s)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make([]Series, 0, len(keys))
	for _, k := range keys {
		members := groups[k]
		SortByFrequency(members)
		series = append(series, Series{Key: k, Samples: members})
	}
	return series
}

// Flatten merges series back into one frequency-sorted slice
func Flatten(series []Series) []Sample {
	total := 0
	for _, s := range series {
		total += len(s.Samples)
	}
	out := make([]Sample, 0, total)
	for _, s := range series {
		out = append(out, s.Samples...)
	}
	SortByFrequency(out)
	return out
}

// Intensities extracts the y values
func Intensities(samples []Sample) []float64 {
	ys := make([]float64, len(samples))
	for i, s := range samples {
		ys[i] = s.Intensity
	}
	return ys
}

// Frequencies extracts the x values
func Frequencies(samples []Sample) []float64 {
	xs := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.Frequency
	}
	return xs
}

// Bounds returns the x and y extents of samples. ok is false when empty.
func Bounds(samples []Sample) (xmin, xmax, ymin, ymax float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, 0, 0, false
	}
	xs := Frequencies(samples)
	ys := Intensities(samples)
	return floats.Min(xs), floats.Max(xs), floats.Min(ys), floats.Max(ys), true
}

// Window returns the sub-slice of a frequency-sorted slice with lo <= x <= hi.
// The result shares memory with samples.
func Window(samples []Sample, lo, hi float64) []Sample {
	if lo > hi || len(samples) == 0 {
		return nil
	}
	start := sort.Search(len(samples), func(i int) bool { return samples[i].Frequency >= lo })
	end := sort.Search(len(samples), func(i int) bool { return samples[i].Frequency > hi })
	if start >= end {
		return nil
	}
	return samples[start:end]
}

// Filter keeps the samples whose identity is in set, preserving order
func Filter(samples []Sample, set IDSet) []Sample {
	out := make([]Sample, 0, min(len(samples), len(set)))
	for _, s := range samples {
		if set.Has(s.ID) {
			out = append(out, s)
		}
	}
	return out
}

// ToPoints converts samples to renderer points
func ToPoints(samples []Sample) []Point {
	points := make([]Point, len(samples))
	for i, s := range samples {
		points[i] = Point{X: s.Frequency, Y: s.Intensity, Group: s.Session}
	}
	return points
}
