package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/rfiscope/pkg/sdk/transport"
	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// Config holds configuration for the batcher
type Config struct {
	// MaxBatchSize must not exceed the server's per-request sample limit
	MaxBatchSize int
	FlushEvery   time.Duration
	SendTimeout  time.Duration

	// OnError is called with each failed send and the number of samples lost
	OnError func(err error, dropped int)
}

// Stats counts samples by send outcome
type Stats struct {
	Sent    int64
	Dropped int64
}

// Batcher buffers samples and sends them in batches
type Batcher struct {
	config    Config
	transport transport.Transport

	samples []spectrum.Sample
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// flushing allows one background flush at a time
	flushing atomic.Bool
	inflight sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a new batcher
func New(transport transport.Transport, config Config) *Batcher {
	if config.SendTimeout == 0 {
		config.SendTimeout = 10 * time.Second
	}
	return &Batcher{
		config:    config,
		transport: transport,
		samples:   make([]spectrum.Sample, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the periodic flush loop
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add buffers a sample, flushing in the background when the batch is full
func (b *Batcher) Add(sample spectrum.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, sample)
	full := len(b.samples) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if full && b.flushing.CompareAndSwap(false, true) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			defer b.flushing.Store(false)
			_ = b.Flush()
		}()
	}
}

// Flush sends everything buffered, in batches of at most MaxBatchSize
func (b *Batcher) Flush() error {
	var firstErr error
	for {
		batch := b.take()
		if len(batch) == 0 {
			return firstErr
		}
		if err := b.send(batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
}

// Stop stops the flush loop, waits for background sends and flushes the rest
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.inflight.Wait()
	return b.Flush()
}

// Stats returns the samples sent and dropped so far
func (b *Batcher) Stats() Stats {
	return Stats{Sent: b.sent.Load(), Dropped: b.dropped.Load()}
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				_ = b.Flush()
				b.flushing.Store(false)
			}
		}
	}
}

// take removes up to MaxBatchSize buffered samples
func (b *Batcher) take() []spectrum.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.samples)
	if n == 0 {
		return nil
	}
	if b.config.MaxBatchSize > 0 && n > b.config.MaxBatchSize {
		n = b.config.MaxBatchSize
	}
	batch := make([]spectrum.Sample, n)
	copy(batch, b.samples[:n])
	b.samples = append(b.samples[:0], b.samples[n:]...)
	return batch
}

func (b *Batcher) send(batch []spectrum.Sample) error {
	parent := b.ctx
	if parent == nil || parent.Err() != nil {
		// final flush after Stop
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, b.config.SendTimeout)
	defer cancel()

	if err := b.transport.Send(ctx, batch); err != nil {
		b.dropped.Add(int64(len(batch)))
		if b.config.OnError != nil {
			b.config.OnError(err, len(batch))
		}
		return err
	}
	b.sent.Add(int64(len(batch)))
	return nil
}
