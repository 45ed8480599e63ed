package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicktill/rfiscope/pkg/spectrum"
)

// mockTransport is a mock implementation of transport.Transport for testing
type mockTransport struct {
	mu      sync.Mutex
	batches [][]spectrum.Sample
	sendErr error
	delay   time.Duration
}

func (m *mockTransport) Send(ctx context.Context, batch []spectrum.Sample) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	batchCopy := make([]spectrum.Sample, len(batch))
	copy(batchCopy, batch)
	m.batches = append(m.batches, batchCopy)
	return m.sendErr
}

func (m *mockTransport) getBatches() [][]spectrum.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([][]spectrum.Sample, len(m.batches))
	copy(result, m.batches)
	return result
}

func (m *mockTransport) totalSamples() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, batch := range m.batches {
		total += len(batch)
	}
	return total
}

func sample(i int) spectrum.Sample {
	return spectrum.Sample{
		Frequency: 1000 + float64(i),
		Intensity: 1,
		Timestamp: time.Now(),
		Session:   "S1",
		Receiver:  "Rcvr1_2",
	}
}

func TestNew(t *testing.T) {
	transport := &mockTransport{}
	batcher := New(transport, Config{MaxBatchSize: 100, FlushEvery: 5 * time.Second})

	if batcher.config.MaxBatchSize != 100 {
		t.Errorf("Expected MaxBatchSize=100, got %d", batcher.config.MaxBatchSize)
	}
	if batcher.config.SendTimeout != 10*time.Second {
		t.Errorf("Expected default SendTimeout=10s, got %v", batcher.config.SendTimeout)
	}
	if batcher.transport != transport {
		t.Error("Transport not set correctly")
	}
}

func TestAddTriggersFlushWhenFull(t *testing.T) {
	transport := &mockTransport{}
	batcher := New(transport, Config{MaxBatchSize: 10, FlushEvery: time.Hour})
	if err := batcher.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		batcher.Add(sample(i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for transport.totalSamples() < 10 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := transport.totalSamples(); got != 10 {
		t.Errorf("Expected 10 samples sent after a full batch, got %d", got)
	}

	if err := batcher.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestFlushSplitsLargeBuffers(t *testing.T) {
	transport := &mockTransport{}
	batcher := New(transport, Config{MaxBatchSize: 4, FlushEvery: time.Hour})

	// Not started: Add only buffers once the flushing flag is held
	batcher.flushing.Store(true)
	for i := 0; i < 10; i++ {
		batcher.Add(sample(i))
	}
	batcher.flushing.Store(false)

	if err := batcher.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	batches := transport.getBatches()
	if len(batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batches))
	}
	sizes := []int{len(batches[0]), len(batches[1]), len(batches[2])}
	if sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("batch sizes = %v, want [4 4 2]", sizes)
	}
	if batches[2][1].Frequency != 1009 {
		t.Errorf("order not kept: last frequency %v", batches[2][1].Frequency)
	}
}

func TestPeriodicFlush(t *testing.T) {
	transport := &mockTransport{}
	batcher := New(transport, Config{MaxBatchSize: 1000, FlushEvery: 20 * time.Millisecond})
	_ = batcher.Start(context.Background())
	defer batcher.Stop()

	batcher.Add(sample(1))
	batcher.Add(sample(2))

	deadline := time.Now().Add(2 * time.Second)
	for transport.totalSamples() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := transport.totalSamples(); got != 2 {
		t.Errorf("Expected periodic flush to send 2 samples, got %d", got)
	}
}

func TestStopFlushesPending(t *testing.T) {
	transport := &mockTransport{}
	batcher := New(transport, Config{MaxBatchSize: 1000, FlushEvery: time.Hour})
	_ = batcher.Start(context.Background())

	for i := 0; i < 5; i++ {
		batcher.Add(sample(i))
	}
	if err := batcher.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := transport.totalSamples(); got != 5 {
		t.Errorf("Expected 5 samples flushed on stop, got %d", got)
	}
	if stats := batcher.Stats(); stats.Sent != 5 || stats.Dropped != 0 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestSendErrorsAreReported(t *testing.T) {
	sendErr := errors.New("server down")
	transport := &mockTransport{sendErr: sendErr}

	var reported atomic.Int64
	batcher := New(transport, Config{
		MaxBatchSize: 1000,
		FlushEvery:   time.Hour,
		OnError: func(err error, dropped int) {
			if !errors.Is(err, sendErr) {
				t.Errorf("OnError got %v", err)
			}
			reported.Add(int64(dropped))
		},
	})

	batcher.Add(sample(1))
	batcher.Add(sample(2))
	if err := batcher.Flush(); !errors.Is(err, sendErr) {
		t.Errorf("Flush() error = %v, want %v", err, sendErr)
	}
	if reported.Load() != 2 {
		t.Errorf("OnError dropped = %d, want 2", reported.Load())
	}
	if stats := batcher.Stats(); stats.Dropped != 2 {
		t.Errorf("Stats.Dropped = %d, want 2", stats.Dropped)
	}
}

func TestFlushEmpty(t *testing.T) {
	transport := &mockTransport{}
	batcher := New(transport, Config{MaxBatchSize: 10, FlushEvery: time.Hour})

	if err := batcher.Flush(); err != nil {
		t.Errorf("Flush() on empty batcher error = %v", err)
	}
	if len(transport.getBatches()) != 0 {
		t.Error("Expected no sends for an empty buffer")
	}
}

func TestConcurrentAdd(t *testing.T) {
	transport := &mockTransport{delay: 5 * time.Millisecond}
	batcher := New(transport, Config{MaxBatchSize: 50, FlushEvery: time.Hour})
	_ = batcher.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				batcher.Add(sample(g*100 + i))
			}
		}(g)
	}
	wg.Wait()

	if err := batcher.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := transport.totalSamples(); got != 800 {
		t.Errorf("Expected all 800 samples delivered, got %d", got)
	}
}
