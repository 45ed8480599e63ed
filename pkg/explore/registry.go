package explore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/rfiscope/pkg/planner"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

var (
	// ErrNotFound is returned for unknown or expired exploration ids
	ErrNotFound = errors.New("exploration not found")

	// ErrTooManyExplorations is returned when the registry is full
	ErrTooManyExplorations = errors.New("too many open explorations")
)

// Exploration is one user's zoom and pan state over a plan
type Exploration struct {
	ID        string
	Plan      *planner.Plan
	CreatedAt time.Time

	source  viewport.Source
	reducer *viewport.Reducer
	session *viewport.Session

	mu       sync.Mutex
	lastUsed time.Time
}

// Reduce serves one viewport. A seq at or below the newest one seen, or one
// superseded while it was being reduced, fails with viewport.ErrStaleRequest.
func (e *Exploration) Reduce(ctx context.Context, vp viewport.Viewport, seq uint64) (*viewport.Result, error) {
	if err := e.session.Begin(seq); err != nil {
		staleRequests.Inc()
		return nil, err
	}
	result, err := e.reducer.Reduce(ctx, e.source, vp, e.session)
	if err != nil {
		return nil, err
	}
	if !e.session.Current(seq) {
		staleRequests.Inc()
		return nil, viewport.ErrStaleRequest
	}
	return result, nil
}

// Extent reports the size and bounds of the explored data
func (e *Exploration) Extent(ctx context.Context) (viewport.Extent, error) {
	return e.source.Extent(ctx)
}

func (e *Exploration) touch(now time.Time) {
	e.mu.Lock()
	e.lastUsed = now
	e.mu.Unlock()
}

func (e *Exploration) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

// Registry holds open explorations and expires idle ones
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Exploration
	ttl   time.Duration
	max   int
	now   func() time.Time
}

// NewRegistry creates a registry. Explorations idle longer than ttl are
// dropped by Sweep; at most max may be open at once.
func NewRegistry(ttl time.Duration, max int) *Registry {
	return &Registry{
		items: make(map[string]*Exploration),
		ttl:   ttl,
		max:   max,
		now:   time.Now,
	}
}

// Create opens an exploration over plan
func (r *Registry) Create(plan *planner.Plan, src viewport.Source, reducer *viewport.Reducer) (*Exploration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.items) >= r.max {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManyExplorations, r.max)
	}

	now := r.now()
	e := &Exploration{
		ID:        uuid.NewString(),
		Plan:      plan,
		CreatedAt: now,
		source:    src,
		reducer:   reducer,
		session:   viewport.NewSession(),
		lastUsed:  now,
	}
	r.items[e.ID] = e
	openExplorations.Set(float64(len(r.items)))
	return e, nil
}

// Get returns an open exploration and marks it used
func (r *Registry) Get(id string) (*Exploration, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	r.mu.RLock()
	e, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	e.touch(r.now())
	return e, nil
}

// Delete closes an exploration. It reports whether the id was open.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.items[id]
	delete(r.items, id)
	openExplorations.Set(float64(len(r.items)))
	return ok
}

// Len returns the number of open explorations
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Sweep drops explorations idle longer than the ttl and returns how many
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.items {
		if e.idleSince().Before(cutoff) {
			delete(r.items, id)
			removed++
		}
	}
	openExplorations.Set(float64(len(r.items)))
	expiredExplorations.Add(float64(removed))
	return removed
}

// Run sweeps every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Printf("Expired %d idle explorations (%d open)", n, r.Len())
			}
		}
	}
}
