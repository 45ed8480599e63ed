package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

// Storage stores samples in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu        sync.RWMutex
	samples   map[uint64]spectrum.Sample
	bySession map[string][]uint64
	sessions  map[string]*storage.SessionInfo
	nextID    uint64
	now       func() time.Time
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		samples:   make(map[uint64]spectrum.Sample),
		bySession: make(map[string][]uint64),
		sessions:  make(map[string]*storage.SessionInfo),
		now:       time.Now,
	}
}

// Write stores samples in memory
func (s *Storage) Write(ctx context.Context, samples []spectrum.Sample) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receivers := make(map[string]string)
	for name, info := range s.sessions {
		receivers[name] = info.Receiver
	}
	if err := storage.CheckReceivers(receivers, samples); err != nil {
		return nil, err
	}

	now := s.now()
	ids := make([]uint64, len(samples))
	for i, sample := range samples {
		if sample.ID == 0 {
			s.nextID++
			sample.ID = s.nextID
		} else if sample.ID > s.nextID {
			s.nextID = sample.ID
		}

		if old, exists := s.samples[sample.ID]; exists {
			s.removeLocked(old)
		}

		s.samples[sample.ID] = sample
		s.bySession[sample.Session] = append(s.bySession[sample.Session], sample.ID)

		info, ok := s.sessions[sample.Session]
		if !ok {
			info = &storage.SessionInfo{}
			s.sessions[sample.Session] = info
		}
		info.Observe(sample, now)
		ids[i] = sample.ID
	}

	return ids, nil
}

// removeLocked drops a sample from its session index. Session bounds are kept.
func (s *Storage) removeLocked(old spectrum.Sample) {
	ids := s.bySession[old.Session]
	for i, id := range ids {
		if id == old.ID {
			s.bySession[old.Session] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if info, ok := s.sessions[old.Session]; ok {
		info.Rows--
		if info.Rows <= 0 {
			delete(s.sessions, old.Session)
			delete(s.bySession, old.Session)
		}
	}
	delete(s.samples, old.ID)
}

// collect returns matching samples ordered by session name, then frequency
func (s *Storage) collect(req storage.QueryRequest) []spectrum.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := req.SessionFilter()
	names := make([]string, 0, len(s.sessions))
	for name, info := range s.sessions {
		if filter.Matches(*info) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var results []spectrum.Sample
	for _, name := range names {
		rows := make([]spectrum.Sample, 0, len(s.bySession[name]))
		for _, id := range s.bySession[name] {
			sample := s.samples[id]
			if req.Matches(sample) {
				rows = append(rows, sample)
			}
		}
		spectrum.SortByFrequency(rows)
		results = append(results, rows...)
	}
	return results
}

// Scan calls fn for each matching sample
func (s *Storage) Scan(ctx context.Context, req storage.QueryRequest, fn func(spectrum.Sample) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, sample := range s.collect(req) {
		if req.Limit > 0 && i >= req.Limit {
			break
		}
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(sample); err != nil {
			if errors.Is(err, storage.ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Query retrieves samples matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]spectrum.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := s.collect(req)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Summarize counts matching samples
func (s *Storage) Summarize(ctx context.Context, req storage.QueryRequest) (*storage.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &storage.Summary{}
	for _, sample := range s.collect(req) {
		summary.Observe(sample)
	}
	return summary, nil
}

// Sessions lists session metadata
func (s *Storage) Sessions(ctx context.Context, filter storage.SessionFilter) ([]storage.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.SessionInfo
	for _, info := range s.sessions {
		if filter.Matches(*info) {
			results = append(results, *info)
		}
	}
	storage.SortSessions(results)
	return results, nil
}

// SetTiers ORs tier flags into stored samples. Unknown IDs are ignored.
func (s *Storage) SetTiers(ctx context.Context, flags map[uint64]spectrum.TierMask) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, mask := range flags {
		sample, ok := s.samples[id]
		if !ok {
			continue
		}
		sample.Tiers |= mask
		s.samples[id] = sample
	}
	return nil
}

// ClearTiers resets tier flags for the given sessions
func (s *Storage) ClearTiers(ctx context.Context, sessions []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range sessions {
		for _, id := range s.bySession[name] {
			sample := s.samples[id]
			sample.Tiers = 0
			s.samples[id] = sample
		}
		if info, ok := s.sessions[name]; ok {
			info.TieredAt = time.Time{}
		}
	}
	return nil
}

// MarkTiered records the tier rebuild time for a session
func (s *Storage) MarkTiered(ctx context.Context, session string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.sessions[session]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, session)
	}
	info.TieredAt = at
	return nil
}

// DeleteSessions removes sessions and their samples
func (s *Storage) DeleteSessions(ctx context.Context, sessions []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range sessions {
		for _, id := range s.bySession[name] {
			delete(s.samples, id)
		}
		delete(s.bySession, name)
		delete(s.sessions, name)
	}
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalSamples:  uint64(len(s.samples)),
		TotalSessions: uint64(len(s.sessions)),
	}

	for _, info := range s.sessions {
		if info.Stale() {
			stats.StaleSessions++
		}
		if stats.OldestSample.IsZero() || info.Start.Before(stats.OldestSample) {
			stats.OldestSample = info.Start
		}
		if info.End.After(stats.NewestSample) {
			stats.NewestSample = info.End
		}
	}

	// Rough size estimate (each sample ~120 bytes)
	stats.SizeBytes = uint64(len(s.samples)) * 120

	return stats, nil
}
