package tiering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/storage/memory"
	"github.com/nicktill/rfiscope/pkg/storage/storagetest"
)

func newBackfillFixture(t *testing.T) (*memory.Storage, *Backfiller) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	_, err := store.Write(ctx, storagetest.Scan("A", "Rcvr1_2", 0, 5000))
	require.NoError(t, err)
	_, err = store.Write(ctx, storagetest.Scan("B", "Rcvr2_3", 1, 3000))
	require.NoError(t, err)

	backfiller, err := NewBackfiller(store, config.DefaultPolicy())
	require.NoError(t, err)
	return store, backfiller
}

func countLevel(t *testing.T, store storage.Storage, session string, level int) int {
	t.Helper()
	rows, err := store.Query(context.Background(), storage.QueryRequest{
		Sessions: []string{session},
		Tiers:    spectrum.LevelMask(level),
	})
	require.NoError(t, err)
	return len(rows)
}

func TestBackfiller_Run(t *testing.T) {
	store, backfiller := newBackfillFixture(t)
	defer store.Close()
	ctx := context.Background()

	result, err := backfiller.Run(ctx, Options{Workers: 2})
	require.NoError(t, err)
	require.Len(t, result.Scopes, 2)
	require.Equal(t, "A", result.Scopes[0].Session)
	require.Equal(t, 5000, result.Scopes[0].Rows)
	require.Len(t, result.Scopes[0].Levels, 4)

	// A 5,000 row session stays under the 1,250 floor stride of 4
	require.Equal(t, result.Scopes[0].Levels[0], countLevel(t, store, "A", 0))
	require.GreaterOrEqual(t, countLevel(t, store, "A", 0), 1250)
	require.Greater(t, countLevel(t, store, "B", 3), 0)

	sessions, err := store.Sessions(ctx, storage.SessionFilter{})
	require.NoError(t, err)
	for _, info := range sessions {
		require.False(t, info.Stale(), "session %s still stale", info.Name)
	}
}

func TestBackfiller_StaleOnly(t *testing.T) {
	store, backfiller := newBackfillFixture(t)
	defer store.Close()
	ctx := context.Background()

	_, err := backfiller.Run(ctx, Options{})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = store.Write(ctx, storagetest.Scan("B", "Rcvr2_3", 2, 10))
	require.NoError(t, err)

	result, err := backfiller.Run(ctx, Options{StaleOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Len(t, result.Scopes, 1)
	require.Equal(t, "B", result.Scopes[0].Session)
	require.Equal(t, 3010, result.Scopes[0].Rows)
	// The ten new rows repeat existing frequencies
	require.Equal(t, 3000, result.Scopes[0].Samples)
	for level, size := range result.Scopes[0].Levels {
		require.GreaterOrEqual(t, countLevel(t, store, "B", level), size, "level %d", level)
		require.LessOrEqual(t, countLevel(t, store, "B", level), size+10, "level %d", level)
	}
}

func TestBackfiller_Reset(t *testing.T) {
	store, backfiller := newBackfillFixture(t)
	defer store.Close()
	ctx := context.Background()

	// Flag every row of A into level 0 by hand, as a stale earlier build would
	rows, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"A"}})
	require.NoError(t, err)
	flags := make(map[uint64]spectrum.TierMask)
	for _, r := range rows {
		flags[r.ID] = spectrum.LevelMask(0)
	}
	require.NoError(t, store.SetTiers(ctx, flags))
	require.Equal(t, 5000, countLevel(t, store, "A", 0))

	result, err := backfiller.Run(ctx, Options{Sessions: []string{"A"}, Reset: true})
	require.NoError(t, err)
	require.Len(t, result.Scopes, 1)
	require.Equal(t, result.Scopes[0].Levels[0], countLevel(t, store, "A", 0))
	require.Less(t, countLevel(t, store, "A", 0), 5000)

	// B was out of scope
	require.Zero(t, countLevel(t, store, "B", 0))
}

func TestBackfiller_SessionArguments(t *testing.T) {
	store, backfiller := newBackfillFixture(t)
	defer store.Close()
	ctx := context.Background()

	_, err := backfiller.Run(ctx, Options{Sessions: []string{"A", "missing"}})
	require.True(t, errors.Is(err, ErrUnknownSession))

	_, err = backfiller.Run(ctx, Options{Sessions: []string{"A", "A"}})
	require.True(t, errors.Is(err, ErrDuplicateSession))

	// Nothing was flagged by the failed runs
	require.Zero(t, countLevel(t, store, "A", 0))
}

func TestBackfiller_ProminenceNeedsKnownReceiver(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, storagetest.Scan("X", "RcvrMystery", 0, 100))
	require.NoError(t, err)

	policy := config.DefaultPolicy()
	policy.Strategy = string(KindProminence)
	backfiller, err := NewBackfiller(store, policy)
	require.NoError(t, err)

	_, err = backfiller.Run(ctx, Options{})
	require.True(t, errors.Is(err, config.ErrUnknownReceiver))
}

func TestNewBackfiller_UnknownStrategy(t *testing.T) {
	policy := config.DefaultPolicy()
	policy.Strategy = "orig"
	_, err := NewBackfiller(memory.New(), policy)
	require.Error(t, err)
}

func TestBackfiller_AveragesRepeatedScans(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	first := storagetest.Scan("D", "Rcvr1_2", 0, 5000)
	second := storagetest.Scan("D", "Rcvr1_2", 0, 5000)
	second[2501].Intensity = 100
	_, err := store.Write(ctx, append(first, second...))
	require.NoError(t, err)

	backfiller, err := NewBackfiller(store, config.DefaultPolicy())
	require.NoError(t, err)
	result, err := backfiller.Run(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, result.Scopes, 1)

	scope := result.Scopes[0]
	require.Equal(t, 10000, scope.Rows)
	require.Equal(t, 5000, scope.Samples)

	all, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"D"}})
	require.NoError(t, err)
	exact := make(map[float64]float64)
	for _, s := range spectrum.Normalize(all) {
		exact[s.Frequency] = s.Intensity
	}

	for level, size := range scope.Levels {
		rows, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"D"}, Tiers: spectrum.LevelMask(level)})
		require.NoError(t, err)
		// Both scans of every selected frequency carry the flag
		require.Len(t, rows, 2*size, "level %d", level)

		for _, s := range spectrum.Normalize(rows) {
			require.Equal(t, exact[s.Frequency], s.Intensity, "level %d at %v MHz", level, s.Frequency)
		}
	}

	level0, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"D"}, Tiers: spectrum.LevelMask(0)})
	require.NoError(t, err)
	spike := false
	for _, s := range spectrum.Normalize(level0) {
		if s.Frequency == 3501 {
			spike = true
			require.Equal(t, (first[2501].Intensity+100)/2, s.Intensity)
		}
	}
	require.True(t, spike, "averaged spike missing from level 0")
}

func TestBackfiller_StaleRebuildReplacesLevels(t *testing.T) {
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	scan := storagetest.Scan("C", "Rcvr1_2", 0, 100000)
	_, err := store.Write(ctx, scan[:1000])
	require.NoError(t, err)

	backfiller, err := NewBackfiller(store, config.DefaultPolicy())
	require.NoError(t, err)
	_, err = backfiller.Run(ctx, Options{})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = store.Write(ctx, scan[1000:])
	require.NoError(t, err)

	result, err := backfiller.Run(ctx, Options{StaleOnly: true})
	require.NoError(t, err)
	require.Len(t, result.Scopes, 1)
	require.Equal(t, 100000, result.Scopes[0].Rows)

	for level, size := range result.Scopes[0].Levels {
		require.Equal(t, size, countLevel(t, store, "C", level), "level %d", level)
	}
}
