package spectrum

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

type dupKey struct {
	session   string
	frequency float64
}

// Normalize averages samples sharing a frequency within one session.
// The merged sample keeps the identity and timestamp of the first one seen.
// Output is ordered by session, then frequency.
func Normalize(samples []Sample) []Sample {
	merged, _ := NormalizeMembers(samples)
	return merged
}

// NormalizeMembers is Normalize that also reports which rows were averaged
// together: the map is keyed by the identity a merged sample kept and lists
// every row folded into it, itself included. Samples without duplicates
// have no entry.
func NormalizeMembers(samples []Sample) ([]Sample, map[uint64][]uint64) {
	index := make(map[dupKey]int, len(samples))
	var merged []Sample
	var values [][]float64
	var ids [][]uint64

	for _, s := range samples {
		key := dupKey{session: s.Session, frequency: s.Frequency}
		if i, ok := index[key]; ok {
			values[i] = append(values[i], s.Intensity)
			ids[i] = append(ids[i], s.ID)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, s)
		values = append(values, []float64{s.Intensity})
		ids = append(ids, []uint64{s.ID})
	}

	members := make(map[uint64][]uint64)
	for i := range merged {
		if len(values[i]) > 1 {
			merged[i].Intensity = stat.Mean(values[i], nil)
			members[merged[i].ID] = ids[i]
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Session != merged[j].Session {
			return merged[i].Session < merged[j].Session
		}
		return merged[i].Frequency < merged[j].Frequency
	})
	return merged, members
}
