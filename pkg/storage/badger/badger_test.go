package badger

import (
	"context"
	"math"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/rfiscope/pkg/storage"
	"github.com/nicktill/rfiscope/pkg/storage/storagetest"
)

func TestBadgerStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		store, err := New(Config{InMemory: true})
		require.NoError(t, err)
		return store
	})
}

func TestBadgerStorage_Persistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	var firstIDs []uint64
	{
		store, err := New(Config{Path: tmpDir})
		require.NoError(t, err)

		firstIDs, err = store.Write(ctx, storagetest.Scan("AGBT24A_001_01", "Rcvr1_2", 0, 25))
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	store, err := New(Config{Path: tmpDir})
	require.NoError(t, err)
	defer store.Close()

	results, err := store.Query(ctx, storage.QueryRequest{Sessions: []string{"AGBT24A_001_01"}})
	require.NoError(t, err)
	require.Len(t, results, 25)

	// IDs keep increasing across restarts
	more, err := store.Write(ctx, storagetest.Scan("AGBT24A_001_01", "Rcvr1_2", 0, 5))
	require.NoError(t, err)
	last := firstIDs[len(firstIDs)-1]
	for _, id := range more {
		require.Greater(t, id, last)
	}
}

func TestEncodeFloat_Order(t *testing.T) {
	values := []float64{-1e9, -3.5, -0.001, 0, 0.001, 1, 1420.4058, 1e12, math.Inf(1)}

	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = string(encodeFloat(v))
		require.Equal(t, v, decodeFloat(encodeFloat(v)))
	}
	require.True(t, sort.StringsAreSorted(keys))
}

func TestSampleKey_RoundTrip(t *testing.T) {
	key := sampleKey("AGBT24A_001_01", 1420.4058, 77)
	require.Len(t, key, sampleKeyLen)

	freq, id := parseSampleKey(key)
	require.Equal(t, 1420.4058, freq)
	require.Equal(t, uint64(77), id)
	require.Equal(t, sessionPrefix("AGBT24A_001_01"), key[:9])
}

func TestBadgerStorage_SessionHashClaims(t *testing.T) {
	defer func(orig func(string) uint64) { hashSession = orig }(hashSession)
	hashSession = func(string) uint64 { return 42 }

	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Write(ctx, storagetest.Scan("AGBT24A_001_01", "Rcvr1_2", 0, 20))
	require.NoError(t, err)

	_, err = store.Write(ctx, storagetest.Scan("AGBT24A_002_01", "Rcvr1_2", 1, 10))
	require.ErrorIs(t, err, storage.ErrSessionCollision)

	// Key-only estimates see the owner's rows only
	summary, err := store.Summarize(ctx, storage.QueryRequest{FreqLow: 1, FreqHigh: 1e6})
	require.NoError(t, err)
	require.Equal(t, 20, summary.Count)

	// Deleting the owner releases the hash
	require.NoError(t, store.DeleteSessions(ctx, []string{"AGBT24A_001_01"}))
	_, err = store.Write(ctx, storagetest.Scan("AGBT24A_002_01", "Rcvr1_2", 1, 10))
	require.NoError(t, err)

	rows, err := store.Query(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for _, row := range rows {
		require.Equal(t, "AGBT24A_002_01", row.Session)
	}
}
