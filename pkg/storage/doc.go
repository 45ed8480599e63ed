/*
Package storage provides the pluggable storage abstraction for scan samples.

# Storage Interface

Backends:
  - memory: in-memory storage for testing and ephemeral workloads
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

Both keep every sample row with a stable ID plus per-session metadata
(receiver, time span, frequency span, row count, last write and last tier
rebuild). The metadata lets planners estimate request sizes and resolve
dates to sessions without touching sample rows.

# Tier Flags

Each sample carries a spectrum.TierMask. Bit i set means the row belongs to
view level i. SetTiers ORs bits in, ClearTiers resets a whole session.
A QueryRequest with a non-zero Tiers mask returns only rows carrying every
requested bit, so a view level is read with:

	store.Query(ctx, storage.QueryRequest{
	    Sessions: []string{"AGBT24A_001_01"},
	    Tiers:    spectrum.LevelMask(0),
	})

Rows written after the last rebuild have no flags and are absent from every
tier until the session is backfilled again. SessionInfo.Stale reports this.

# BadgerDB Key Layout

	s | xxhash(session) | sortable frequency | id  -> sample JSON
	i | id                                          -> sample key
	m | session name                                -> session metadata JSON

Sample keys sort by frequency inside a session, so a frequency window is a
seek plus a bounded iteration. Sample IDs come from a badger Sequence.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	ids, err := store.Write(ctx, samples)
	summary, err := store.Summarize(ctx, storage.QueryRequest{
	    Receivers: []string{"Rcvr1_2"},
	    FreqLow:   1100,
	    FreqHigh:  1200,
	})
*/
package storage
