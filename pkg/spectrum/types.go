package spectrum

import (
	"fmt"
	"sort"
	"time"
)

// MaxLevels is the number of tier flags a sample can carry
const MaxLevels = 8

// TierMask holds the view level membership flags of a sample.
// Bit i set means the sample belongs to view level i.
type TierMask uint8

// LevelMask returns the mask for a single view level
func LevelMask(level int) TierMask {
	if level < 0 || level >= MaxLevels {
		return 0
	}
	return TierMask(1) << uint(level)
}

// Has reports whether every bit in other is set
func (m TierMask) Has(other TierMask) bool {
	return m&other == other
}

// Levels lists the view levels set in the mask, ascending
func (m TierMask) Levels() []int {
	var levels []int
	for i := 0; i < MaxLevels; i++ {
		if m&LevelMask(i) != 0 {
			levels = append(levels, i)
		}
	}
	return levels
}

// Sample is one stored intensity measurement.
// Frequency is the x axis (MHz), Intensity the y axis (Jy).
// Session is the group key samples are decimated and drawn by.
type Sample struct {
	ID        uint64    `json:"id,omitempty"`
	Frequency float64   `json:"frequency"`
	Intensity float64   `json:"intensity"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`
	Receiver  string    `json:"receiver"`
	Tiers     TierMask  `json:"tiers,omitempty"`
}

func (s Sample) String() string {
	return fmt.Sprintf("%s: %s: Frequency: %g MHz Intensity: %g Jy", s.Session, s.Receiver, s.Frequency, s.Intensity)
}

// Point is a reduced sample handed to a renderer
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Group string  `json:"group,omitempty"`
}

// IDSet is a set of sample identities
type IDSet map[uint64]struct{}

// NewIDSet creates a set holding ids
func NewIDSet(ids ...uint64) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts an identity
func (s IDSet) Add(id uint64) {
	s[id] = struct{}{}
}

// Has reports membership
func (s IDSet) Has(id uint64) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of other to s
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the members in ascending order
func (s IDSet) Sorted() []uint64 {
	ids := make([]uint64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Series is an ordered run of samples sharing a group key
type Series struct {
	Key     string   `json:"key"`
	Samples []Sample `json:"samples"`
}

// Len returns the number of samples
func (s Series) Len() int {
	return len(s.Samples)
}
