// Package storagetest runs the same behavioural checks against every storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

// Factory opens an empty backend
type Factory func(t *testing.T) storage.Storage

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Scan builds one session with n samples at 1 MHz spacing starting at 1000 MHz
func Scan(session, receiver string, day, n int) []spectrum.Sample {
	samples := make([]spectrum.Sample, n)
	for i := range samples {
		samples[i] = spectrum.Sample{
			Frequency: 1000 + float64(i),
			Intensity: float64(i%7) + 1,
			Timestamp: base.Add(time.Duration(day) * 24 * time.Hour),
			Session:   session,
			Receiver:  receiver,
		}
	}
	return samples
}

// Run executes the conformance suite
func Run(t *testing.T, open Factory) {
	t.Run("WriteAssignsIDs", func(t *testing.T) { testWriteAssignsIDs(t, open(t)) })
	t.Run("QueryFilters", func(t *testing.T) { testQueryFilters(t, open(t)) })
	t.Run("FrequencyOrder", func(t *testing.T) { testFrequencyOrder(t, open(t)) })
	t.Run("Summarize", func(t *testing.T) { testSummarize(t, open(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
	t.Run("Tiers", func(t *testing.T) { testTiers(t, open(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, open(t)) })
	t.Run("ReceiverMismatch", func(t *testing.T) { testReceiverMismatch(t, open(t)) })
	t.Run("ScanStop", func(t *testing.T) { testScanStop(t, open(t)) })
	t.Run("DeleteSessions", func(t *testing.T) { testDeleteSessions(t, open(t)) })
	t.Run("Cancelled", func(t *testing.T) { testCancelled(t, open(t)) })
}

func testWriteAssignsIDs(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	ids, err := store.Write(ctx, Scan("AGBT24A_001_01", "Rcvr1_2", 0, 50))
	require.NoError(t, err)
	require.Len(t, ids, 50)

	seen := make(map[uint64]bool)
	for _, id := range ids {
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(50), stats.TotalSamples)
	require.Equal(t, uint64(1), stats.TotalSessions)
	require.Equal(t, uint64(1), stats.StaleSessions)
}

func testQueryFilters(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 100))
	require.NoError(t, err)
	_, err = store.Write(ctx, Scan("B", "Rcvr2_3", 1, 100))
	require.NoError(t, err)
	_, err = store.Write(ctx, Scan("C", "Rcvr1_2", 5, 100))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  storage.QueryRequest
		want int
	}{
		{"everything", storage.QueryRequest{}, 300},
		{"by receiver", storage.QueryRequest{Receivers: []string{"Rcvr1_2"}}, 200},
		{"by session", storage.QueryRequest{Sessions: []string{"B"}}, 100},
		{"unknown session", storage.QueryRequest{Sessions: []string{"nope"}}, 0},
		{"time window", storage.QueryRequest{Start: base, End: base.Add(36 * time.Hour)}, 200},
		{"frequency window", storage.QueryRequest{Sessions: []string{"A"}, FreqLow: 1010, FreqHigh: 1019}, 10},
		{"open low bound", storage.QueryRequest{Sessions: []string{"A"}, FreqHigh: 1004.5}, 5},
		{"limit", storage.QueryRequest{Limit: 42}, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Query(ctx, tt.req)
			require.NoError(t, err)
			require.Len(t, results, tt.want)
			for _, s := range results {
				require.True(t, tt.req.Matches(s))
			}
		})
	}
}

func testFrequencyOrder(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	samples := Scan("A", "Rcvr1_2", 0, 20)
	// Write in reverse with negative and fractional frequencies mixed in
	for i := range samples {
		samples[i].Frequency = float64(10-i) * 0.5
	}
	_, err := store.Write(ctx, samples)
	require.NoError(t, err)

	results, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"A"}})
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i-1].Frequency, results[i].Frequency)
	}
	require.Equal(t, -4.5, results[0].Frequency)
}

func testSummarize(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 100))
	require.NoError(t, err)
	_, err = store.Write(ctx, Scan("B", "Rcvr1_2", 2, 40))
	require.NoError(t, err)

	summary, err := store.Summarize(ctx, storage.QueryRequest{Receivers: []string{"Rcvr1_2"}})
	require.NoError(t, err)
	require.Equal(t, 140, summary.Count)
	require.Equal(t, 1000.0, summary.FreqMin)
	require.Equal(t, 1099.0, summary.FreqMax)
	require.True(t, summary.Start.Equal(base))
	require.True(t, summary.End.Equal(base.Add(48*time.Hour)))

	summary, err = store.Summarize(ctx, storage.QueryRequest{FreqLow: 1020, FreqHigh: 1050})
	require.NoError(t, err)
	require.Equal(t, 31+20, summary.Count)
	require.Equal(t, 1020.0, summary.FreqMin)
	require.Equal(t, 1050.0, summary.FreqMax)

	summary, err = store.Summarize(ctx, storage.QueryRequest{Receivers: []string{"Rcvr8_10"}})
	require.NoError(t, err)
	require.Zero(t, summary.Count)
}

func testSessions(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, Scan("late", "Rcvr1_2", 3, 10))
	require.NoError(t, err)
	_, err = store.Write(ctx, Scan("early", "Rcvr1_2", 0, 10))
	require.NoError(t, err)
	_, err = store.Write(ctx, Scan("other", "Rcvr4_6", 1, 10))
	require.NoError(t, err)

	sessions, err := store.Sessions(ctx, storage.SessionFilter{Receivers: []string{"Rcvr1_2"}})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "early", sessions[0].Name)
	require.Equal(t, "late", sessions[1].Name)
	require.Equal(t, 10, sessions[0].Rows)
	require.Equal(t, 1000.0, sessions[0].FreqMin)
	require.Equal(t, 1009.0, sessions[0].FreqMax)

	sessions, err = store.Sessions(ctx, storage.SessionFilter{End: base.Add(30 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	sessions, err = store.Sessions(ctx, storage.SessionFilter{Names: []string{"other", "missing"}})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "Rcvr4_6", sessions[0].Receiver)
}

func testTiers(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	ids, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 10))
	require.NoError(t, err)

	require.NoError(t, store.SetTiers(ctx, map[uint64]spectrum.TierMask{
		ids[0]: spectrum.LevelMask(0),
		ids[1]: spectrum.LevelMask(1),
		ids[2]: spectrum.LevelMask(0) | spectrum.LevelMask(1),
		999999: spectrum.LevelMask(0),
	}))
	// Flags are ORed in
	require.NoError(t, store.SetTiers(ctx, map[uint64]spectrum.TierMask{ids[1]: spectrum.LevelMask(0)}))

	level0, err := store.Query(ctx, storage.QueryRequest{Tiers: spectrum.LevelMask(0)})
	require.NoError(t, err)
	require.Len(t, level0, 3)

	level1, err := store.Query(ctx, storage.QueryRequest{Tiers: spectrum.LevelMask(1)})
	require.NoError(t, err)
	require.Len(t, level1, 2)

	tieredAt := base.Add(time.Hour)
	require.NoError(t, store.MarkTiered(ctx, "A", time.Now().Add(time.Hour)))
	sessions, err := store.Sessions(ctx, storage.SessionFilter{})
	require.NoError(t, err)
	require.False(t, sessions[0].Stale())

	require.NoError(t, store.ClearTiers(ctx, []string{"A"}))
	level0, err = store.Query(ctx, storage.QueryRequest{Tiers: spectrum.LevelMask(0)})
	require.NoError(t, err)
	require.Empty(t, level0)

	sessions, err = store.Sessions(ctx, storage.SessionFilter{})
	require.NoError(t, err)
	require.True(t, sessions[0].Stale())

	err = store.MarkTiered(ctx, "missing", tieredAt)
	require.True(t, errors.Is(err, storage.ErrSessionNotFound))
}

func testReplace(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	ids, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 5))
	require.NoError(t, err)

	restored := spectrum.Sample{
		ID:        ids[2],
		Frequency: 2000,
		Intensity: 42,
		Timestamp: base,
		Session:   "A",
		Receiver:  "Rcvr1_2",
	}
	got, err := store.Write(ctx, []spectrum.Sample{restored})
	require.NoError(t, err)
	require.Equal(t, []uint64{ids[2]}, got)

	results, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"A"}})
	require.NoError(t, err)
	require.Len(t, results, 5)
	require.Equal(t, 2000.0, results[4].Frequency)
	require.Equal(t, ids[2], results[4].ID)

	// A restored high ID must not be reused for new rows
	_, err = store.Write(ctx, []spectrum.Sample{{ID: 500, Frequency: 1, Timestamp: base, Session: "A", Receiver: "Rcvr1_2"}})
	require.NoError(t, err)
	fresh, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 600))
	require.NoError(t, err)
	for _, id := range fresh {
		require.NotEqual(t, uint64(500), id)
	}
}

func testReceiverMismatch(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 3))
	require.NoError(t, err)

	_, err = store.Write(ctx, Scan("A", "Rcvr2_3", 0, 3))
	require.True(t, errors.Is(err, storage.ErrReceiverMismatch))

	mixed := append(Scan("B", "Rcvr1_2", 0, 2), Scan("B", "Rcvr4_6", 0, 2)...)
	_, err = store.Write(ctx, mixed)
	require.True(t, errors.Is(err, storage.ErrReceiverMismatch))
}

func testScanStop(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 100))
	require.NoError(t, err)

	var seen int
	err = store.Scan(ctx, storage.QueryRequest{}, func(spectrum.Sample) error {
		seen++
		if seen == 10 {
			return storage.ErrStopScan
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 10, seen)

	boom := errors.New("boom")
	err = store.Scan(ctx, storage.QueryRequest{}, func(spectrum.Sample) error { return boom })
	require.True(t, errors.Is(err, boom))
}

func testDeleteSessions(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 10))
	require.NoError(t, err)
	_, err = store.Write(ctx, Scan("B", "Rcvr1_2", 1, 10))
	require.NoError(t, err)

	require.NoError(t, store.DeleteSessions(ctx, []string{"A"}))

	results, err := store.Query(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, results, 10)
	require.Equal(t, "B", results[0].Session)

	sessions, err := store.Sessions(ctx, storage.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func testCancelled(t *testing.T, store storage.Storage) {
	defer store.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Write(ctx, Scan("A", "Rcvr1_2", 0, 3))
	require.True(t, errors.Is(err, context.Canceled))

	_, err = store.Query(ctx, storage.QueryRequest{})
	require.True(t, errors.Is(err, context.Canceled))
}
