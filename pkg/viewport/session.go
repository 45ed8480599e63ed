package viewport

import (
	"sync"

	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Session holds the viewport state of one exploration: the last fetched
// slice, its coverage and the newest request sequence. A Session must not be
// shared between users.
type Session struct {
	mu sync.Mutex

	latest uint64

	extent *Extent
	fetch  *fetched
	last   *Viewport
}

type fetched struct {
	sel     Selection
	derived bool
	lo, hi  float64
	rows    []spectrum.Sample
}

func (f *fetched) covers(sel Selection, lo, hi float64) bool {
	return f != nil && f.sel == sel && lo >= f.lo && hi <= f.hi
}

// NewSession creates an empty viewport session
func NewSession() *Session {
	return &Session{}
}

// Begin registers request seq. A seq not above the newest one seen is stale.
// Zero means unordered and is always accepted.
func (s *Session) Begin(seq uint64) error {
	if seq == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.latest {
		return ErrStaleRequest
	}
	s.latest = seq
	return nil
}

// Current reports whether seq is still the newest request
func (s *Session) Current(seq uint64) bool {
	if seq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.latest
}

// Last returns the most recently reduced viewport
func (s *Session) Last() (Viewport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Viewport{}, false
	}
	return *s.last, true
}

// Reset drops cached rows, e.g. after the underlying data changed
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = nil
	s.fetch = nil
}
