package trigger

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/cadigan/CortexFlow/internal/adapters/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTarget simulates buffer growth without timing dependence: tests move
// the length and timestamp in deliberate bursts.
type fakeTarget struct {
	mu     sync.Mutex
	len    int
	ts     float64
	haveTS bool
}

func (f *fakeTarget) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.len
}

func (f *fakeTarget) NewestTimestamp() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ts, f.haveTS
}

func (f *fakeTarget) grow(rows int, ts float64) {
	f.mu.Lock()
	f.len += rows
	f.ts = ts
	f.haveTS = true
	f.mu.Unlock()
}

const testPoll = 2 * time.Millisecond

func waitFires(t *testing.T, tr *Trigger, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Fires() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("fires = %d, want at least %d", tr.Fires(), want)
}

// settle waits several poll intervals so any pending crossing would have fired.
func settle() { time.Sleep(10 * testPoll) }

func TestCountTriggerFiresOncePerBurst(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 10, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	for burst := 1; burst <= 5; burst++ {
		// 20 rows at once cross the threshold exactly once.
		target.grow(20, float64(burst))
		waitFires(t, tr, burst)
		settle()
		if got := tr.Fires(); got != burst {
			t.Fatalf("burst %d: fires = %d, want %d", burst, got, burst)
		}
	}
}

func TestGrowthRightAfterStartCounts(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 10, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	// The baseline is fixed before Start returns, so rows appended in the
	// instant after it must still cross the threshold.
	target.grow(20, 1)
	waitFires(t, tr, 1)
	settle()
	if got := tr.Fires(); got != 1 {
		t.Fatalf("fires = %d for growth right after start, want 1", got)
	}
}

func TestCountTriggerDoesNotFireBelowThreshold(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 10, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	target.grow(9, 1)
	settle()
	if got := tr.Fires(); got != 0 {
		t.Fatalf("fires = %d below threshold, want 0", got)
	}

	target.grow(1, 2)
	waitFires(t, tr, 1)
}

func TestBaselineMovesBeforeCallback(t *testing.T) {
	target := &fakeTarget{}
	inCallback := make(chan struct{})
	release := make(chan struct{})

	cb := func(Fire) (string, error) {
		close(inCallback)
		<-release
		return "", nil
	}

	tr, err := NewCount(target, 10, cb, observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	target.grow(20, 1)
	<-inCallback

	// Growth below the threshold while the callback is still running must not
	// produce a second firing: the baseline already moved to 20.
	target.grow(5, 2)
	close(release)
	settle()

	if got := tr.Fires(); got != 1 {
		t.Fatalf("fires = %d after sub-threshold growth during callback, want 1", got)
	}
}

func TestTimeTriggerBaselinesOnFirstRow(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewTime(target, 500*time.Millisecond, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	// First observed row sets the baseline; it never fires on its own, no
	// matter its absolute timestamp.
	target.grow(1, 1000)
	settle()
	if got := tr.Fires(); got != 0 {
		t.Fatalf("fires = %d on first row, want 0", got)
	}

	target.grow(1, 1000.5)
	waitFires(t, tr, 1)
	settle()
	if got := tr.Fires(); got != 1 {
		t.Fatalf("fires = %d, want 1", got)
	}

	// Under the threshold since the last firing: no crossing.
	target.grow(1, 1000.9)
	settle()
	if got := tr.Fires(); got != 1 {
		t.Fatalf("fires = %d after sub-threshold advance, want 1", got)
	}

	target.grow(1, 1001.5)
	waitFires(t, tr, 2)
}

func TestStopPreventsFurtherCallbacks(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 10, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	target.grow(20, 1)
	waitFires(t, tr, 1)

	tr.Stop()
	tr.Stop() // idempotent

	select {
	case <-tr.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	target.grow(100, 2)
	settle()
	if got := tr.Fires(); got != 1 {
		t.Fatalf("fires = %d after Stop, want 1", got)
	}
}

func TestStopBeforeStart(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 1, func(Fire) (string, error) { return "", nil },
		observability.NewNop())
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	// Must not block waiting for a loop that never ran.
	tr.Stop()

	// Starting afterwards is allowed; the loop sees the raised token and
	// exits without ever firing.
	if err := tr.Start(); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on pre-raised token")
	}
	if got := tr.Fires(); got != 0 {
		t.Fatalf("fires = %d, want 0", got)
	}
}

func TestStartTwiceFails(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 1, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	if err := tr.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: %v, want ErrAlreadyStarted", err)
	}
}

func TestCallbackErrorPropagates(t *testing.T) {
	target := &fakeTarget{}
	cbErr := errors.New("analysis failed")
	tr, err := NewCount(target, 10, func(Fire) (string, error) { return "", cbErr },
		observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	target.grow(20, 1)

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on propagated callback error")
	}
	if got := tr.Err(); !errors.Is(got, cbErr) {
		t.Fatalf("Err() = %v, want %v", got, cbErr)
	}
	if got := tr.Fires(); got != 1 {
		t.Fatalf("fires = %d, want 1", got)
	}
	tr.Stop()
}

func TestCallbackErrorLogPolicyKeepsPolling(t *testing.T) {
	target := &fakeTarget{}
	var calls atomic.Int32
	cb := func(Fire) (string, error) {
		calls.Add(1)
		return "", errors.New("transient")
	}

	tr, err := NewCount(target, 10, cb, observability.NewNop(),
		WithPollInterval(testPoll), WithErrorPolicy("log"))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	target.grow(20, 1)
	waitFires(t, tr, 1)
	target.grow(20, 2)
	waitFires(t, tr, 2)

	if got := tr.Err(); got != nil {
		t.Fatalf("Err() = %v under log policy, want nil", got)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("callback ran %d times, want 2", got)
	}
}

func TestMaxFiresStopsLoop(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 10, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll), WithMaxFires(3))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	for burst := 1; burst <= 3; burst++ {
		target.grow(20, float64(burst))
		waitFires(t, tr, burst)
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after max fires")
	}
	if got := tr.Fires(); got != 3 {
		t.Fatalf("fires = %d, want 3", got)
	}
	tr.Stop()
}

func TestMaxDurationStopsLoop(t *testing.T) {
	target := &fakeTarget{}
	tr, err := NewCount(target, 1000, func(Fire) (string, error) { return "", nil },
		observability.NewNop(), WithPollInterval(testPoll), WithMaxDuration(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after max duration")
	}
	tr.Stop()
}

type chanFeedback struct{ ch chan string }

func (f *chanFeedback) Display(text string) error {
	f.ch <- text
	return nil
}
func (f *chanFeedback) Name() string { return "chan" }

func TestFeedbackReceivesCallbackOutput(t *testing.T) {
	target := &fakeTarget{}
	sink := &chanFeedback{ch: make(chan string, 1)}

	cb := func(f Fire) (string, error) { return "window ready", nil }
	tr, err := NewCount(target, 10, cb, observability.NewNop(),
		WithPollInterval(testPoll), WithFeedback(sink))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	target.grow(20, 1)

	select {
	case text := <-sink.ch:
		if text != "window ready" {
			t.Fatalf("feedback text %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feedback never delivered")
	}
}

func TestFireCarriesBufferState(t *testing.T) {
	target := &fakeTarget{}
	fires := make(chan Fire, 1)
	cb := func(f Fire) (string, error) {
		fires <- f
		return "", nil
	}

	tr, err := NewCount(target, 10, cb, observability.NewNop(), WithPollInterval(testPoll))
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	target.grow(25, 42.5)

	select {
	case f := <-fires:
		if f.Seq != 1 {
			t.Fatalf("seq = %d, want 1", f.Seq)
		}
		if f.BufferLen != 25 {
			t.Fatalf("buffer len = %d, want 25", f.BufferLen)
		}
		if f.NewestTimestamp != 42.5 {
			t.Fatalf("newest timestamp = %f, want 42.5", f.NewestTimestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never fired")
	}
}

func TestConstructorValidation(t *testing.T) {
	target := &fakeTarget{}
	cb := func(Fire) (string, error) { return "", nil }
	obs := observability.NewNop()

	if _, err := NewCount(target, 0, cb, obs); err == nil {
		t.Fatal("zero count threshold accepted")
	}
	if _, err := NewCount(target, -5, cb, obs); err == nil {
		t.Fatal("negative count threshold accepted")
	}
	if _, err := NewTime(target, 0, cb, obs); err == nil {
		t.Fatal("zero time threshold accepted")
	}
	if _, err := NewCount(nil, 1, cb, obs); err == nil {
		t.Fatal("nil target accepted")
	}
	if _, err := NewCount(target, 1, nil, obs); err == nil {
		t.Fatal("nil callback accepted")
	}
}
