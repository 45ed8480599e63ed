package tiering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

var (
	// ErrUnknownSession is returned when a requested session has no rows
	ErrUnknownSession = errors.New("unknown session")

	// ErrDuplicateSession is returned when a session is requested twice
	ErrDuplicateSession = errors.New("session requested more than once")
)

// Backfiller rebuilds view level flags, one session (scope) at a time
type Backfiller struct {
	storage storage.Storage
	policy  *config.Policy
	kind    Kind
	now     func() time.Time
}

// NewBackfiller creates a backfiller using the policy's strategy and tier specs
func NewBackfiller(store storage.Storage, policy *config.Policy) (*Backfiller, error) {
	kind, err := ParseStrategy(policy.Strategy)
	if err != nil {
		return nil, err
	}
	return &Backfiller{
		storage: store,
		policy:  policy,
		kind:    kind,
		now:     time.Now,
	}, nil
}

// Options controls one backfill run
type Options struct {
	// Sessions restricts the run; empty means every session
	Sessions []string

	// Reset clears existing flags of in-scope rows before rebuilding
	Reset bool

	// StaleOnly skips sessions not written since their last rebuild
	StaleOnly bool

	// Workers bounds how many sessions are processed in parallel
	Workers int
}

// ScopeResult reports one rebuilt session
type ScopeResult struct {
	Session  string        `json:"session"`
	Receiver string        `json:"receiver"`
	Rows     int           `json:"rows"`
	Samples  int           `json:"samples"`
	Levels   []int         `json:"levels"`
	Duration time.Duration `json:"duration"`
}

// Result summarises a backfill run
type Result struct {
	Scopes   []ScopeResult `json:"scopes"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Run rebuilds tiers for the selected sessions.
// Each session is processed fully by one worker; sessions never share state.
func (b *Backfiller) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	sessions, err := b.resolve(ctx, opts.Sessions)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	scopes := sessions
	if opts.StaleOnly {
		scopes = scopes[:0:0]
		for _, info := range sessions {
			if info.Stale() {
				scopes = append(scopes, info)
			}
		}
		result.Skipped = len(sessions) - len(scopes)
	}

	if opts.Reset && len(scopes) > 0 {
		names := make([]string, len(scopes))
		for i, info := range scopes {
			names[i] = info.Name
		}
		if err := b.storage.ClearTiers(ctx, names); err != nil {
			return nil, fmt.Errorf("failed to reset tier flags: %w", err)
		}
		log.Printf("Cleared tier flags for %d sessions", len(names))
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	result.Scopes = make([]ScopeResult, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, info := range scopes {
		g.Go(func() error {
			scope, err := b.BackfillSession(gctx, info)
			if err != nil {
				return err
			}
			result.Scopes[i] = scope
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	backfillDuration.Observe(result.Duration.Seconds())
	log.Printf("Backfill finished: %d sessions rebuilt, %d skipped in %v", len(result.Scopes), result.Skipped, result.Duration)
	return result, nil
}

// BackfillSession rebuilds every view level of one session. Levels are built
// over the session's normalized series; Levels counts distinct frequencies
// while Rows counts stored rows.
func (b *Backfiller) BackfillSession(ctx context.Context, info storage.SessionInfo) (ScopeResult, error) {
	started := b.now()
	timer := time.Now()

	rows, err := b.storage.Query(ctx, storage.QueryRequest{Sessions: []string{info.Name}})
	if err != nil {
		sessionsProcessed.WithLabelValues("error").Inc()
		return ScopeResult{}, fmt.Errorf("failed to query session %s: %w", info.Name, err)
	}
	spectrum.SortByFrequency(rows)
	// Repeated scans of a frequency are averaged before reduction, the same
	// way they are averaged when read back
	series, members := spectrum.NormalizeMembers(rows)

	strategy, err := b.strategyFor(info.Receiver)
	if err != nil {
		sessionsProcessed.WithLabelValues("error").Inc()
		return ScopeResult{}, fmt.Errorf("session %s: %w", info.Name, err)
	}

	tiers := NewBuilder(strategy).Build(series, Budgets(b.policy.Tiers, len(series)))

	// Levels are replaced wholesale; flags from an earlier build of a
	// smaller session must not survive next to the new ones
	if err := b.storage.ClearTiers(ctx, []string{info.Name}); err != nil {
		sessionsProcessed.WithLabelValues("error").Inc()
		return ScopeResult{}, fmt.Errorf("failed to clear tier flags for %s: %w", info.Name, err)
	}
	if err := b.storage.SetTiers(ctx, tiers.FlagsFor(members)); err != nil {
		sessionsProcessed.WithLabelValues("error").Inc()
		return ScopeResult{}, fmt.Errorf("failed to set tier flags for %s: %w", info.Name, err)
	}
	if err := b.storage.MarkTiered(ctx, info.Name, started); err != nil {
		sessionsProcessed.WithLabelValues("error").Inc()
		return ScopeResult{}, fmt.Errorf("failed to mark %s tiered: %w", info.Name, err)
	}

	sizes := tiers.Sizes()
	for level, size := range sizes {
		tierMembers.WithLabelValues(fmt.Sprint(level)).Observe(float64(size))
	}
	sessionsProcessed.WithLabelValues("ok").Inc()

	return ScopeResult{
		Session:  info.Name,
		Receiver: info.Receiver,
		Rows:     len(rows),
		Samples:  len(series),
		Levels:   sizes,
		Duration: time.Since(timer),
	}, nil
}

func (b *Backfiller) strategyFor(receiver string) (Strategy, error) {
	strategyOpts := StrategyOptions{ThresholdMultiplier: b.policy.ThresholdMultiplier}
	if b.kind == KindProminence {
		prominence, err := b.policy.Prominence(receiver)
		if err != nil {
			return nil, err
		}
		strategyOpts.Prominence = prominence
	}
	return NewStrategy(b.kind, strategyOpts)
}

// resolve returns the sessions in scope, failing on unknown or repeated names
func (b *Backfiller) resolve(ctx context.Context, names []string) ([]storage.SessionInfo, error) {
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, name)
		}
		seen[name] = true
	}

	sessions, err := b.storage.Sessions(ctx, storage.SessionFilter{Names: names})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(names) > 0 && len(sessions) != len(names) {
		found := make(map[string]bool)
		for _, info := range sessions {
			found[info.Name] = true
		}
		var missing []string
		for _, name := range names {
			if !found[name] {
				missing = append(missing, name)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrUnknownSession, missing)
	}
	return sessions, nil
}
