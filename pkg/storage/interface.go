package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/rfiscope/pkg/spectrum"
)

var (
	// ErrStopScan ends a Scan early without reporting an error
	ErrStopScan = errors.New("stop scan")

	// ErrSessionNotFound is returned when a named session has no rows
	ErrSessionNotFound = errors.New("session not found")

	// ErrReceiverMismatch is returned when a write mixes receivers within one session
	ErrReceiverMismatch = errors.New("session already recorded with a different receiver")

	// ErrSessionCollision is returned when a backend cannot keep a new session
	// apart from an existing one
	ErrSessionCollision = errors.New("session key collides with an existing session")
)

// Storage defines the interface for scan sample backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write stores samples and returns their IDs. Samples with a zero ID get a new one;
	// a non-zero ID replaces the stored row with that ID.
	Write(ctx context.Context, samples []spectrum.Sample) ([]uint64, error)

	// Scan calls fn for each matching sample, ordered by frequency within a session.
	// Returning ErrStopScan from fn ends the scan without error.
	Scan(ctx context.Context, req QueryRequest, fn func(spectrum.Sample) error) error

	// Query collects matching samples
	Query(ctx context.Context, req QueryRequest) ([]spectrum.Sample, error)

	// Summarize counts matching samples and reports their bounds without returning them
	Summarize(ctx context.Context, req QueryRequest) (*Summary, error)

	// Sessions lists session metadata ordered by start time
	Sessions(ctx context.Context, filter SessionFilter) ([]SessionInfo, error)

	// SetTiers ORs tier flags into the samples with the given IDs
	SetTiers(ctx context.Context, flags map[uint64]spectrum.TierMask) error

	// ClearTiers resets tier flags for every sample of the given sessions
	ClearTiers(ctx context.Context, sessions []string) error

	// MarkTiered records when a session's tiers were last rebuilt
	MarkTiered(ctx context.Context, session string, at time.Time) error

	// DeleteSessions removes sessions and all their samples
	DeleteSessions(ctx context.Context, sessions []string) error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// QueryRequest specifies which samples to read. Zero values leave a filter open.
type QueryRequest struct {
	Sessions  []string
	Receivers []string

	// Time range (inclusive)
	Start time.Time
	End   time.Time

	// Frequency range in MHz (inclusive)
	FreqLow  float64
	FreqHigh float64

	// Tiers requires every bit in the mask to be set on a sample
	Tiers spectrum.TierMask

	// Limit number of results (0 = no limit)
	Limit int
}

// Summary describes the samples a request would return
type Summary struct {
	Count   int
	FreqMin float64
	FreqMax float64
	Start   time.Time
	End     time.Time
}

// SessionFilter selects sessions. Zero values leave a filter open.
type SessionFilter struct {
	Names     []string
	Receivers []string

	// Sessions overlapping [Start, End] match
	Start time.Time
	End   time.Time
}

// SessionInfo is the metadata kept per observing session
type SessionInfo struct {
	Name       string    `json:"name"`
	Receiver   string    `json:"receiver"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Rows       int       `json:"rows"`
	FreqMin    float64   `json:"freq_min"`
	FreqMax    float64   `json:"freq_max"`
	ModifiedAt time.Time `json:"modified_at"`
	TieredAt   time.Time `json:"tiered_at,omitempty"`
}

// Stale reports whether rows were written after the last tier rebuild
func (s SessionInfo) Stale() bool {
	return s.TieredAt.IsZero() || s.ModifiedAt.After(s.TieredAt)
}

// Stats provides storage health and usage info
type Stats struct {
	TotalSamples  uint64
	TotalSessions uint64
	StaleSessions uint64
	SizeBytes     uint64
	OldestSample  time.Time
	NewestSample  time.Time
}
