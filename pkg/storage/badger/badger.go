package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/rfiscope/pkg/spectrum"
	"github.com/nicktill/rfiscope/pkg/storage"
)

// Key prefixes
const (
	prefixSample  byte = 's' // s | session hash | frequency | id -> sample
	prefixIndex   byte = 'i' // i | id -> sample key
	prefixSession byte = 'm' // m | session name -> session metadata
	prefixClaim   byte = 'h' // h | session hash -> session name
)

// hashSession keys a session's samples. Each hash is claimed by the first
// session written under it, so sample prefixes never mix sessions.
var hashSession = xxhash.Sum64String

var sequenceKey = []byte("!seq/sample")

const (
	sampleKeyLen = 1 + 8 + 8 + 8

	// writeChunk bounds the number of rows per transaction to stay under badger's txn limits
	writeChunk = 1000

	slowQueryThreshold = 5 * time.Second
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Laptop-friendly default of 48 MB total (16 MB memtable + caches)
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches grow without bound unless capped
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &Storage{db: db, seq: seq, now: time.Now}, nil
}

// run executes fn in a goroutine so a cancelled context releases the caller
// even while badger is blocked.
func run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// checkCtx is polled inside long iterations
func checkCtx(ctx context.Context, n int) error {
	if n%1000 != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Write stores samples in BadgerDB
func (s *Storage) Write(ctx context.Context, samples []spectrum.Sample) ([]uint64, error) {
	ids := make([]uint64, len(samples))

	err := run(ctx, "write", func() error {
		receivers := make(map[string]string)
		if err := s.db.View(func(txn *badger.Txn) error {
			for _, sample := range samples {
				if _, seen := receivers[sample.Session]; seen {
					continue
				}
				info, err := getSession(txn, sample.Session)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				receivers[sample.Session] = info.Receiver
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read sessions: %w", err)
		}
		if err := storage.CheckReceivers(receivers, samples); err != nil {
			return err
		}

		for start := 0; start < len(samples); start += writeChunk {
			end := start + writeChunk
			if end > len(samples) {
				end = len(samples)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.writeChunk(samples[start:end], ids[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Storage) writeChunk(samples []spectrum.Sample, ids []uint64) error {
	now := s.now()

	return s.db.Update(func(txn *badger.Txn) error {
		touched := make(map[string]*storage.SessionInfo)
		session := func(name string) (*storage.SessionInfo, error) {
			if info, ok := touched[name]; ok {
				return info, nil
			}
			info, err := getSession(txn, name)
			if errors.Is(err, badger.ErrKeyNotFound) {
				info = &storage.SessionInfo{}
			} else if err != nil {
				return nil, err
			}
			if err := claimHash(txn, name); err != nil {
				return nil, err
			}
			touched[name] = info
			return info, nil
		}

		for i, sample := range samples {
			if _, err := session(sample.Session); err != nil {
				return err
			}
			if sample.ID == 0 {
				id, err := s.allocate(txn)
				if err != nil {
					return err
				}
				sample.ID = id
			} else {
				// Replacing a row: drop the old key so frequency or session changes don't leave a duplicate
				if err := s.dropExisting(txn, sample.ID, session); err != nil {
					return err
				}
			}

			key := sampleKey(sample.Session, sample.Frequency, sample.ID)
			value, err := json.Marshal(sample)
			if err != nil {
				return fmt.Errorf("failed to encode sample: %w", err)
			}
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("failed to write sample: %w", err)
			}
			if err := txn.Set(indexKey(sample.ID), key); err != nil {
				return fmt.Errorf("failed to write index: %w", err)
			}

			info, err := session(sample.Session)
			if err != nil {
				return err
			}
			info.Observe(sample, now)
			ids[i] = sample.ID
		}

		for name, info := range touched {
			if info.Rows <= 0 {
				if err := txn.Delete(sessionKey(name)); err != nil {
					return err
				}
				if err := txn.Delete(claimKey(name)); err != nil {
					return err
				}
				continue
			}
			if err := putSession(txn, info); err != nil {
				return err
			}
		}
		return nil
	})
}

// allocate returns the next free ID, skipping IDs taken by restored rows
func (s *Storage) allocate(txn *badger.Txn) (uint64, error) {
	for {
		next, err := s.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("failed to allocate id: %w", err)
		}
		id := next + 1
		_, err = txn.Get(indexKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return id, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func (s *Storage) dropExisting(txn *badger.Txn, id uint64, session func(string) (*storage.SessionInfo, error)) error {
	item, err := txn.Get(indexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	oldKey, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}

	old, err := getSample(txn, oldKey)
	if err != nil {
		return err
	}
	if err := txn.Delete(oldKey); err != nil {
		return err
	}

	info, err := session(old.Session)
	if err != nil {
		return err
	}
	info.Rows--
	return nil
}

// sessionsFor resolves the sessions a request can touch
func (s *Storage) sessionsFor(txn *badger.Txn, filter storage.SessionFilter) ([]storage.SessionInfo, error) {
	var results []storage.SessionInfo

	if len(filter.Names) > 0 {
		for _, name := range filter.Names {
			info, err := getSession(txn, name)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if filter.Matches(*info) {
				results = append(results, *info)
			}
		}
		storage.SortSessions(results)
		return results, nil
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte{prefixSession}
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var info storage.SessionInfo
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		}); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		if filter.Matches(info) {
			results = append(results, info)
		}
	}
	storage.SortSessions(results)
	return results, nil
}

// scanSession walks one session's rows in frequency order, seeking to FreqLow.
// With values false, fn receives a sample holding only key fields.
func scanSession(ctx context.Context, txn *badger.Txn, name string, req storage.QueryRequest, values bool, fn func(spectrum.Sample) error) error {
	prefix := sessionPrefix(name)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	opts.PrefetchSize = 100

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if req.FreqLow != 0 {
		seek = append(append([]byte{}, prefix...), encodeFloat(req.FreqLow)...)
	}

	var n int
	for it.Seek(seek); it.Valid(); it.Next() {
		n++
		if err := checkCtx(ctx, n); err != nil {
			return err
		}

		item := it.Item()
		freq, id := parseSampleKey(item.Key())
		if req.FreqHigh != 0 && freq > req.FreqHigh {
			return nil
		}

		sample := spectrum.Sample{ID: id, Session: name, Frequency: freq}
		if values {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			}); err != nil {
				return fmt.Errorf("failed to decode sample: %w", err)
			}
		}

		if err := fn(sample); err != nil {
			return err
		}
	}
	return nil
}

// Scan calls fn for each matching sample
func (s *Storage) Scan(ctx context.Context, req storage.QueryRequest, fn func(spectrum.Sample) error) error {
	startTime := time.Now()
	var count int

	err := run(ctx, "scan", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			sessions, err := s.sessionsFor(txn, req.SessionFilter())
			if err != nil {
				return err
			}

			for _, info := range sessions {
				err := scanSession(ctx, txn, info.Name, req, true, func(sample spectrum.Sample) error {
					if !req.Matches(sample) {
						return nil
					}
					if req.Limit > 0 && count >= req.Limit {
						return storage.ErrStopScan
					}
					count++
					return fn(sample)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})

	if elapsed := time.Since(startTime); elapsed > slowQueryThreshold {
		log.Printf("Slow scan completed in %v (%d results)", elapsed, count)
	}
	if errors.Is(err, storage.ErrStopScan) {
		return nil
	}
	return err
}

// Query retrieves samples matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]spectrum.Sample, error) {
	var results []spectrum.Sample
	err := s.Scan(ctx, req, func(sample spectrum.Sample) error {
		results = append(results, sample)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Summarize counts matching samples. Values are only decoded when the
// request filters on tiers or cuts through a session's time span.
func (s *Storage) Summarize(ctx context.Context, req storage.QueryRequest) (*storage.Summary, error) {
	summary := &storage.Summary{}

	err := run(ctx, "summarize", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			filter := req.SessionFilter()
			sessions, err := s.sessionsFor(txn, filter)
			if err != nil {
				return err
			}

			for _, info := range sessions {
				values := req.Tiers != 0 || !filter.Covers(info)

				// Whole session, no frequency cut: metadata is enough
				if !values && req.FreqLow == 0 && req.FreqHigh == 0 {
					merge(summary, info)
					continue
				}

				err := scanSession(ctx, txn, info.Name, req, values, func(sample spectrum.Sample) error {
					if values {
						if req.Matches(sample) {
							summary.Observe(sample)
						}
						return nil
					}
					sample.Timestamp = info.Start
					summary.Observe(sample)
					summary.End = maxTime(summary.End, info.End)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func merge(summary *storage.Summary, info storage.SessionInfo) {
	if info.Rows <= 0 {
		return
	}
	if summary.Count == 0 {
		summary.FreqMin, summary.FreqMax = info.FreqMin, info.FreqMax
		summary.Start, summary.End = info.Start, info.End
	}
	summary.FreqMin = math.Min(summary.FreqMin, info.FreqMin)
	summary.FreqMax = math.Max(summary.FreqMax, info.FreqMax)
	if info.Start.Before(summary.Start) {
		summary.Start = info.Start
	}
	summary.End = maxTime(summary.End, info.End)
	summary.Count += info.Rows
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Sessions lists session metadata
func (s *Storage) Sessions(ctx context.Context, filter storage.SessionFilter) ([]storage.SessionInfo, error) {
	var results []storage.SessionInfo
	err := run(ctx, "sessions", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			var err error
			results, err = s.sessionsFor(txn, filter)
			return err
		})
	})
	return results, err
}

// SetTiers ORs tier flags into stored samples. Unknown IDs are ignored.
func (s *Storage) SetTiers(ctx context.Context, flags map[uint64]spectrum.TierMask) error {
	ids := make([]uint64, 0, len(flags))
	for id := range flags {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return run(ctx, "set tiers", func() error {
		for start := 0; start < len(ids); start += writeChunk {
			end := start + writeChunk
			if end > len(ids) {
				end = len(ids)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			err := s.db.Update(func(txn *badger.Txn) error {
				for _, id := range ids[start:end] {
					item, err := txn.Get(indexKey(id))
					if errors.Is(err, badger.ErrKeyNotFound) {
						continue
					}
					if err != nil {
						return err
					}
					key, err := item.ValueCopy(nil)
					if err != nil {
						return err
					}
					sample, err := getSample(txn, key)
					if err != nil {
						return err
					}
					if sample.Tiers|flags[id] == sample.Tiers {
						continue
					}
					sample.Tiers |= flags[id]
					if err := putSample(txn, key, sample); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to set tier flags: %w", err)
			}
		}
		return nil
	})
}

// ClearTiers resets tier flags for the given sessions
func (s *Storage) ClearTiers(ctx context.Context, sessions []string) error {
	return run(ctx, "clear tiers", func() error {
		for _, name := range sessions {
			wb := s.db.NewWriteBatch()

			err := s.db.View(func(txn *badger.Txn) error {
				return scanSession(ctx, txn, name, storage.QueryRequest{}, true, func(sample spectrum.Sample) error {
					if sample.Tiers == 0 {
						return nil
					}
					sample.Tiers = 0
					value, err := json.Marshal(sample)
					if err != nil {
						return err
					}
					return wb.Set(sampleKey(name, sample.Frequency, sample.ID), value)
				})
			})
			if err != nil {
				wb.Cancel()
				return fmt.Errorf("failed to clear tiers for %s: %w", name, err)
			}
			if err := wb.Flush(); err != nil {
				return fmt.Errorf("failed to clear tiers for %s: %w", name, err)
			}

			if err := s.updateSession(name, func(info *storage.SessionInfo) {
				info.TieredAt = time.Time{}
			}); err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
				return err
			}
		}
		return nil
	})
}

// MarkTiered records the tier rebuild time for a session
func (s *Storage) MarkTiered(ctx context.Context, session string, at time.Time) error {
	return run(ctx, "mark tiered", func() error {
		return s.updateSession(session, func(info *storage.SessionInfo) {
			info.TieredAt = at
		})
	})
}

func (s *Storage) updateSession(name string, fn func(*storage.SessionInfo)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		info, err := getSession(txn, name)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, name)
		}
		if err != nil {
			return err
		}
		fn(info)
		return putSession(txn, info)
	})
}

// DeleteSessions removes sessions and their samples
func (s *Storage) DeleteSessions(ctx context.Context, sessions []string) error {
	return run(ctx, "delete", func() error {
		for _, name := range sessions {
			wb := s.db.NewWriteBatch()

			err := s.db.View(func(txn *badger.Txn) error {
				return scanSession(ctx, txn, name, storage.QueryRequest{}, false, func(sample spectrum.Sample) error {
					if err := wb.Delete(sampleKey(name, sample.Frequency, sample.ID)); err != nil {
						return err
					}
					return wb.Delete(indexKey(sample.ID))
				})
			})
			if err != nil {
				wb.Cancel()
				return fmt.Errorf("failed to delete session %s: %w", name, err)
			}
			if err := wb.Delete(sessionKey(name)); err != nil {
				wb.Cancel()
				return err
			}
			if err := wb.Delete(claimKey(name)); err != nil {
				wb.Cancel()
				return err
			}
			if err := wb.Flush(); err != nil {
				return fmt.Errorf("failed to delete session %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		log.Printf("Failed to release id sequence: %v", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			sessions, err := s.sessionsFor(txn, storage.SessionFilter{})
			if err != nil {
				return err
			}

			for _, info := range sessions {
				stats.TotalSessions++
				stats.TotalSamples += uint64(info.Rows)
				if info.Stale() {
					stats.StaleSessions++
				}
				if stats.OldestSample.IsZero() || info.Start.Before(stats.OldestSample) {
					stats.OldestSample = info.Start
				}
				stats.NewestSample = maxTime(stats.NewestSample, info.End)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

func getSession(txn *badger.Txn, name string) (*storage.SessionInfo, error) {
	item, err := txn.Get(sessionKey(name))
	if err != nil {
		return nil, err
	}
	info := &storage.SessionInfo{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, info)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", name, err)
	}
	return info, nil
}

func putSession(txn *badger.Txn, info *storage.SessionInfo) error {
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return txn.Set(sessionKey(info.Name), value)
}

func getSample(txn *badger.Txn, key []byte) (spectrum.Sample, error) {
	var sample spectrum.Sample
	item, err := txn.Get(key)
	if err != nil {
		return sample, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sample)
	})
	return sample, err
}

func putSample(txn *badger.Txn, key []byte, sample spectrum.Sample) error {
	value, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	return txn.Set(key, value)
}

// sessionPrefix returns [s][hashSession(session) 8 bytes]
func sessionPrefix(session string) []byte {
	key := make([]byte, 9)
	key[0] = prefixSample
	binary.BigEndian.PutUint64(key[1:9], hashSession(session))
	return key
}

func claimKey(session string) []byte {
	key := make([]byte, 9)
	key[0] = prefixClaim
	binary.BigEndian.PutUint64(key[1:9], hashSession(session))
	return key
}

// claimHash records session as the owner of its hash, failing when another
// session already holds it
func claimHash(txn *badger.Txn, session string) error {
	item, err := txn.Get(claimKey(session))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return txn.Set(claimKey(session), []byte(session))
	}
	if err != nil {
		return err
	}
	owner, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(owner) != session {
		return fmt.Errorf("%w: %s and %s", storage.ErrSessionCollision, session, owner)
	}
	return nil
}

// sampleKey returns [s][session hash][sortable frequency][id]
func sampleKey(session string, freq float64, id uint64) []byte {
	key := make([]byte, 0, sampleKeyLen)
	key = append(key, sessionPrefix(session)...)
	key = append(key, encodeFloat(freq)...)
	key = binary.BigEndian.AppendUint64(key, id)
	return key
}

func parseSampleKey(key []byte) (float64, uint64) {
	freq := decodeFloat(key[9:17])
	id := binary.BigEndian.Uint64(key[17:25])
	return freq, id
}

func indexKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixIndex
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func sessionKey(name string) []byte {
	return append([]byte{prefixSession}, name...)
}

// encodeFloat maps a float64 onto bytes that sort in numeric order
func encodeFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

func decodeFloat(buf []byte) float64 {
	bits := binary.BigEndian.Uint64(buf)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}
