// Package trigger implements the buffer-growth polling loop: a callback is
// invoked exactly once per threshold-unit of new data, on the trigger's own
// goroutine, until the trigger is stopped.
//
// Polling is deliberate. The buffer has no native new-data notification, so
// the loop sleeps a fixed interval between checks; firing precision is
// bounded by that interval. Consumers needing tighter timing align against
// markers instead.
package trigger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/cadigan/CortexFlow/internal/lifecycle"
	"github.com/cadigan/CortexFlow/internal/ports"
)

var (
	// ErrAlreadyStarted is returned by Start on a running or stopped
	// trigger. A trigger runs at most once; construct a new one to resume.
	ErrAlreadyStarted = errors.New("cortexflow: trigger already started")
)

// Metric names used by the trigger loop.
const (
	MetricFires          = "cortex_trigger_fires_total"
	MetricCallbackErrors = "cortex_trigger_callback_errors_total"
	MetricFeedbackSlow   = "cortex_trigger_feedback_slow_total"
)

const defaultPollInterval = 10 * time.Millisecond

// Target is the read-only view of a stream the trigger watches.
type Target interface {
	Len() int
	NewestTimestamp() (float64, bool)
}

// Fire describes one threshold crossing, passed as the single callback
// argument.
type Fire struct {
	Seq             int
	BufferLen       int
	NewestTimestamp float64
	At              time.Time
}

// Callback is the user work run on each crossing. The returned text is
// discarded unless a feedback sink is configured, in which case it is
// displayed.
type Callback func(f Fire) (string, error)

// Option customizes a trigger at construction.
type Option func(*Trigger)

// WithPollInterval overrides the fixed sleep between buffer checks.
func WithPollInterval(d time.Duration) Option {
	return func(t *Trigger) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithFeedback puts the trigger in presentation mode: callback output is
// delivered to sink, bounded by one poll interval per delivery.
func WithFeedback(sink ports.FeedbackSink) Option {
	return func(t *Trigger) { t.feedback = sink }
}

// WithErrorPolicy chooses what a callback error does: "propagate" stops the
// trigger and surfaces the error via Err; "log" records it and keeps
// polling. The default is "propagate" so failures are never silent.
func WithErrorPolicy(policy string) Option {
	return func(t *Trigger) {
		if policy == "log" || policy == "propagate" {
			t.onError = policy
		}
	}
}

// WithMaxFires stops the trigger after n callback invocations.
func WithMaxFires(n int) Option {
	return func(t *Trigger) { t.maxFires = n }
}

// WithMaxDuration stops the trigger once it has been running for d.
func WithMaxDuration(d time.Duration) Option {
	return func(t *Trigger) { t.maxDuration = d }
}

// Trigger polls one target and fires a callback per threshold crossing.
// Lifecycle: created, running, stopped; stopped is terminal.
type Trigger struct {
	id     string
	target Target
	cb     Callback
	obs    ports.Observability

	countThreshold int
	timeThreshold  float64 // seconds; 0 means count-based

	poll        time.Duration
	feedback    ports.FeedbackSink
	onError     string
	maxFires    int
	maxDuration time.Duration

	token  *lifecycle.Token
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	runErr  error

	// Baseline captured in Start, before the loop goroutine launches, so
	// rows appended right after Start returns count toward the first
	// crossing.
	baseLen int
	baseTS  float64
	haveTS  bool

	fires atomic.Int64
}

// NewCount builds a trigger that fires once per n newly appended rows.
func NewCount(target Target, n int, cb Callback, obs ports.Observability, opts ...Option) (*Trigger, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count threshold must be positive, got %d", n)
	}
	return newTrigger(target, n, 0, cb, obs, opts...)
}

// NewTime builds a trigger that fires once each time the newest row's
// timestamp has advanced by d since the last firing.
func NewTime(target Target, d time.Duration, cb Callback, obs ports.Observability, opts ...Option) (*Trigger, error) {
	if d <= 0 {
		return nil, fmt.Errorf("time threshold must be positive, got %s", d)
	}
	return newTrigger(target, 0, d.Seconds(), cb, obs, opts...)
}

func newTrigger(target Target, n int, seconds float64, cb Callback, obs ports.Observability, opts ...Option) (*Trigger, error) {
	if target == nil {
		return nil, fmt.Errorf("trigger target is required")
	}
	if cb == nil {
		return nil, fmt.Errorf("trigger callback is required")
	}
	if obs == nil {
		return nil, fmt.Errorf("trigger observability is required")
	}
	t := &Trigger{
		id:             xid.New().String(),
		target:         target,
		cb:             cb,
		obs:            obs,
		countThreshold: n,
		timeThreshold:  seconds,
		poll:           defaultPollInterval,
		onError:        "propagate",
		token:          lifecycle.NewToken(),
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// ID returns the unique instance id used in logs.
func (t *Trigger) ID() string { return t.id }

// Start launches the polling loop. It fails on a second call; the loop runs
// until Stop, a propagated callback error, or a configured stop condition.
func (t *Trigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true
	t.baseLen = t.target.Len()
	t.baseTS, t.haveTS = t.target.NewestTimestamp()
	go t.run()
	return nil
}

// Stop cancels the loop. After Stop returns and Done is closed, no further
// callback runs; an invocation already in flight completes. Idempotent.
func (t *Trigger) Stop() {
	t.token.Cancel()
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.doneCh
	}
}

// Done is closed when the loop has exited.
func (t *Trigger) Done() <-chan struct{} { return t.doneCh }

// Err reports the callback error that stopped the loop under the propagate
// policy, nil otherwise.
func (t *Trigger) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runErr
}

// Fires returns how many times the callback has been invoked.
func (t *Trigger) Fires() int { return int(t.fires.Load()) }

func (t *Trigger) run() {
	defer close(t.doneCh)

	start := time.Now()
	baseLen := t.baseLen
	baseTS, haveTS := t.baseTS, t.haveTS

	for {
		select {
		case <-t.token.Done():
			return
		case <-time.After(t.poll):
		}

		if t.maxDuration > 0 && time.Since(start) >= t.maxDuration {
			return
		}

		var (
			crossed bool
			curLen  = t.target.Len()
			curTS   float64
		)
		if t.timeThreshold > 0 {
			ts, ok := t.target.NewestTimestamp()
			if !ok {
				continue
			}
			curTS = ts
			if !haveTS {
				// First row observed; it becomes the baseline.
				baseTS, haveTS = ts, true
				continue
			}
			if curTS-baseTS >= t.timeThreshold {
				baseTS = curTS
				crossed = true
			}
		} else if curLen-baseLen >= t.countThreshold {
			// Baseline moves before the callback so a slow callback
			// cannot queue a burst of immediate re-firings.
			baseLen = curLen
			crossed = true
		}
		if !crossed {
			continue
		}

		fire := Fire{
			Seq:             int(t.fires.Load()) + 1,
			BufferLen:       curLen,
			NewestTimestamp: curTS,
			At:              time.Now(),
		}
		if t.timeThreshold == 0 {
			if ts, ok := t.target.NewestTimestamp(); ok {
				fire.NewestTimestamp = ts
			}
		}

		out, err := t.cb(fire)
		t.fires.Add(1)
		t.obs.IncCounter(MetricFires, 1)
		if err != nil {
			t.obs.IncCounter(MetricCallbackErrors, 1)
			if t.onError == "propagate" {
				t.mu.Lock()
				t.runErr = err
				t.mu.Unlock()
				t.obs.LogError("trigger_callback_failed", err,
					ports.Field{Key: "trigger", Value: t.id})
				t.token.Cancel()
				return
			}
			t.obs.LogError("trigger_callback_error", err,
				ports.Field{Key: "trigger", Value: t.id})
		} else if t.feedback != nil {
			t.deliver(out)
		}

		if t.maxFires > 0 && int(t.fires.Load()) >= t.maxFires {
			return
		}
	}
}

// deliver hands callback output to the feedback sink without letting a slow
// sink hold up polling for longer than one refresh.
func (t *Trigger) deliver(text string) {
	done := make(chan error, 1)
	go func() { done <- t.feedback.Display(text) }()

	select {
	case err := <-done:
		if err != nil {
			t.obs.LogError("feedback_display_failed", err,
				ports.Field{Key: "trigger", Value: t.id},
				ports.Field{Key: "sink", Value: t.feedback.Name()})
		}
	case <-time.After(t.poll):
		t.obs.IncCounter(MetricFeedbackSlow, 1)
		t.obs.LogInfo("feedback_display_slow",
			ports.Field{Key: "trigger", Value: t.id},
			ports.Field{Key: "sink", Value: t.feedback.Name()})
	}
}
