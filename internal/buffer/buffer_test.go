package buffer

import (
	"sync"
	"testing"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
)

type shortReadRecorder struct {
	mu        sync.Mutex
	requested int
	available int
	calls     int
}

func (r *shortReadRecorder) LogInfo(string, ...ports.Field)            {}
func (r *shortReadRecorder) LogError(string, error, ...ports.Field)    {}
func (r *shortReadRecorder) LogCritical(string, error, ...ports.Field) {}
func (r *shortReadRecorder) IncCounter(string, float64)                {}
func (r *shortReadRecorder) ObserveLatency(string, float64)            {}
func (r *shortReadRecorder) SetGauge(string, float64)                  {}
func (r *shortReadRecorder) SetStreamGauge(string, string, float64)    {}

func (r *shortReadRecorder) RecordShortRead(_ string, requested, available int) {
	r.mu.Lock()
	r.requested = requested
	r.available = available
	r.calls++
	r.mu.Unlock()
}

func row(ts float64, values ...float64) domain.Row {
	return domain.Row{Values: values, Timestamp: ts}
}

func TestAppendGrowsMonotonically(t *testing.T) {
	b := New("eeg", 2, nil)

	for i := 0; i < 100; i++ {
		before := b.Len()
		b.Append(row(float64(i), float64(i), float64(i)+0.5))
		if got := b.Len(); got != before+1 {
			t.Fatalf("append %d: len %d, want %d", i, got, before+1)
		}
	}

	snap := b.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i].Timestamp < snap[i-1].Timestamp {
			t.Fatalf("row %d out of order: %f < %f", i, snap[i].Timestamp, snap[i-1].Timestamp)
		}
	}
}

func TestAppendWrongArityPanics(t *testing.T) {
	b := New("eeg", 3, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on arity mismatch")
		}
	}()
	b.Append(row(1, 1, 2))
}

func TestNewZeroArityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero arity")
		}
	}()
	New("eeg", 0, nil)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	b := New("eeg", 1, nil)
	b.Append(row(1, 10))
	b.Append(row(2, 20))

	snap := b.Snapshot()
	snap[0].Values[0] = -999
	snap[1].Timestamp = -999

	again := b.Snapshot()
	if again[0].Values[0] != 10 {
		t.Fatalf("mutating a snapshot leaked into the buffer: %f", again[0].Values[0])
	}
	if again[1].Timestamp != 2 {
		t.Fatalf("mutating a snapshot timestamp leaked into the buffer: %f", again[1].Timestamp)
	}
}

func TestSnapshotEmptyBuffer(t *testing.T) {
	b := New("eeg", 1, nil)
	if snap := b.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d rows", len(snap))
	}
	if _, ok := b.NewestTimestamp(); ok {
		t.Fatal("empty buffer should report no newest timestamp")
	}
}

func TestTailShortReadSucceedsAndWarns(t *testing.T) {
	obs := &shortReadRecorder{}
	b := New("eeg", 1, obs)
	b.Append(row(1, 10))
	b.Append(row(2, 20))

	got := b.Tail(5)
	if len(got) != 2 {
		t.Fatalf("short read returned %d rows, want 2", len(got))
	}
	if obs.calls != 1 || obs.requested != 5 || obs.available != 2 {
		t.Fatalf("short read not recorded: calls=%d requested=%d available=%d",
			obs.calls, obs.requested, obs.available)
	}

	// An exact read is not short.
	if got := b.Tail(2); len(got) != 2 {
		t.Fatalf("exact tail returned %d rows, want 2", len(got))
	}
	if obs.calls != 1 {
		t.Fatalf("exact read recorded as short: calls=%d", obs.calls)
	}
}

func TestTailReturnsNewestRows(t *testing.T) {
	b := New("eeg", 1, nil)
	for i := 0; i < 10; i++ {
		b.Append(row(float64(i), float64(i)))
	}

	got := b.Tail(3)
	want := []float64{7, 8, 9}
	for i, ts := range want {
		if got[i].Timestamp != ts {
			t.Fatalf("tail[%d] timestamp %f, want %f", i, got[i].Timestamp, ts)
		}
	}
}

func TestConcurrentReadersDoNotBlockWriter(t *testing.T) {
	b := New("eeg", 1, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = b.Snapshot()
					_ = b.Tail(8)
					_ = b.Len()
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		b.Append(row(float64(i), float64(i)))
	}
	close(stop)
	wg.Wait()

	if got := b.Len(); got != 1000 {
		t.Fatalf("len %d after concurrent appends, want 1000", got)
	}
	ts, ok := b.NewestTimestamp()
	if !ok || ts != 999 {
		t.Fatalf("newest timestamp %f ok=%v, want 999", ts, ok)
	}
}
