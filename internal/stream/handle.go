// Package stream owns the per-stream connection lifecycle: one append-only
// buffer, at most one background ingestion task, and the read-side accessors
// consumers use to observe the stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/cadigan/CortexFlow/internal/buffer"
	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/lifecycle"
	"github.com/cadigan/CortexFlow/internal/ports"
)

var (
	// ErrAlreadyConnected is returned when Connect is called while an
	// ingestion task is already bound. Two writers to one buffer is the
	// failure this guards against.
	ErrAlreadyConnected = errors.New("cortexflow: stream already connected")

	// ErrNotReady means the requested value needs at least one row (or an
	// active connection) and the caller should retry later.
	ErrNotReady = errors.New("cortexflow: stream has no data yet")

	// ErrStopped is returned by Connect after Stop; a stopped handle is
	// terminal and a fresh handle must be constructed.
	ErrStopped = errors.New("cortexflow: stream handle stopped")

	// ErrUnknownUnit is reported (as a warning, not a failure) when a
	// configured channel unit has no known scaling.
	ErrUnknownUnit = errors.New("cortexflow: unknown channel unit")
)

// State is the connection lifecycle of a handle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scalings maps channel units to how many stored units make one volt.
// Values are divided by the factor, which keeps round decimal results
// exact. Unknown units pass through unchanged.
var Scalings = map[string]float64{
	"volts":      1,
	"millivolts": 1e3,
	"microvolts": 1e6,
	"nanovolts":  1e9,
}

// Options describes one stream's identity and metadata.
type Options struct {
	Key       string
	Predicate string
	Arity     int

	// NominalRate is samples per second when the source advertises one;
	// zero means unknown and disables RecordingDuration.
	NominalRate float64

	// Unit is the measurement unit of channel values ("microvolts", ...).
	Unit string

	// Tap, when set, is called with every row right after it is appended.
	// Used to feed recorders without giving them buffer access.
	Tap func(domain.Row)
}

// Handle groups a stream's buffer, its source binding, and the lifecycle
// state machine. At most one ingestion task runs per handle.
type Handle struct {
	id       string
	opts     Options
	buf      *buffer.AppendOnly
	resolver ports.SourceResolver
	obs      ports.Observability
	pol      ports.Policy

	mu     sync.Mutex
	state  State
	token  *lifecycle.Token
	source ports.SampleSource
	doneCh chan struct{}
	runErr error
}

// New constructs an idle handle. The predicate must already be resolved from
// the configuration registry; an empty one is a configuration error.
func New(opts Options, resolver ports.SourceResolver, obs ports.Observability, pol ports.Policy) (*Handle, error) {
	if opts.Key == "" {
		return nil, fmt.Errorf("stream key is required")
	}
	if opts.Predicate == "" {
		return nil, fmt.Errorf("stream %q: discovery predicate is required", opts.Key)
	}
	if opts.Arity <= 0 {
		return nil, fmt.Errorf("stream %q: arity must be positive, got %d", opts.Key, opts.Arity)
	}
	if resolver == nil {
		return nil, fmt.Errorf("stream %q: source resolver is required", opts.Key)
	}
	return &Handle{
		id:       xid.New().String(),
		opts:     opts,
		buf:      buffer.New(opts.Key, opts.Arity, obs),
		resolver: resolver,
		obs:      obs,
		pol:      pol,
	}, nil
}

// ID returns the unique instance id used in logs and metrics.
func (h *Handle) ID() string { return h.id }

// Key returns the symbolic stream key from configuration.
func (h *Handle) Key() string { return h.opts.Key }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Connect resolves the predicate to exactly one source, binds an ingestion
// task to the buffer, and starts it. Calling Connect while Connecting or
// Active fails with ErrAlreadyConnected; the check and the task binding are
// atomic with respect to concurrent Connect calls.
func (h *Handle) Connect(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateConnecting, StateActive:
		h.mu.Unlock()
		return ErrAlreadyConnected
	case StateStopped:
		h.mu.Unlock()
		return ErrStopped
	}
	h.state = StateConnecting
	h.runErr = nil
	token := lifecycle.NewToken()
	done := make(chan struct{})
	h.token = token
	h.doneCh = done
	h.mu.Unlock()

	src, err := h.resolver.Resolve(ctx, h.opts.Predicate)
	if err != nil {
		h.abortConnect(done)
		return fmt.Errorf("resolve stream %q: %w", h.opts.Key, err)
	}

	// The offset is queried here, once per connection, unless policy says
	// to re-query on every pull.
	var offset float64
	if h.pol.TimeCorrection != "per_pull" {
		offset, err = src.TimeCorrection(ctx)
		if err != nil {
			_ = src.Close()
			h.abortConnect(done)
			return fmt.Errorf("time correction for stream %q: %w", h.opts.Key, err)
		}
	}

	// A Stop that landed while the resolver was working has already won:
	// the handle stays terminal and the fresh source is released.
	h.mu.Lock()
	if h.state != StateConnecting {
		h.mu.Unlock()
		_ = src.Close()
		close(done)
		return ErrStopped
	}
	h.source = src
	h.state = StateActive
	h.mu.Unlock()

	h.obs.LogInfo("stream_connected",
		ports.Field{Key: "stream", Value: h.opts.Key},
		ports.Field{Key: "handle", Value: h.id})

	go h.ingest(token, done, src, offset)
	return nil
}

// abortConnect rolls a failed connection attempt back to Idle unless Stop
// already flipped the handle to its terminal state, and releases anything
// waiting on the task's done channel.
func (h *Handle) abortConnect(done chan struct{}) {
	h.mu.Lock()
	if h.state == StateConnecting {
		h.state = StateIdle
		h.token = nil
		h.doneCh = nil
	}
	h.mu.Unlock()
	close(done)
}

// Stop cancels ingestion, closes the source, and waits for the task to exit.
// Idempotent: the second call is a no-op returning nil. Stopped is terminal.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.state == StateStopped {
		h.mu.Unlock()
		return nil
	}
	token := h.token
	src := h.source
	done := h.doneCh
	h.state = StateStopped
	h.token = nil
	h.source = nil
	h.mu.Unlock()

	if token != nil {
		token.Cancel()
	}
	var err error
	if src != nil {
		// Closing the source unblocks a pull in flight.
		err = src.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

// Err reports why ingestion stopped, or nil while it is healthy. A source
// failure parks the handle back in Idle with the error recorded here.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runErr
}

// Done returns a channel closed when the current ingestion task exits. Nil
// when no task has ever run.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doneCh
}

// Len returns the buffer's committed row count.
func (h *Handle) Len() int { return h.buf.Len() }

// Snapshot returns a deep copy of the whole buffer.
func (h *Handle) Snapshot() []domain.Row { return h.buf.Snapshot() }

// Tail returns a deep copy of the last n rows, degrading to a short read
// with a warning when fewer exist.
func (h *Handle) Tail(n int) []domain.Row { return h.buf.Tail(n) }

// NewestTimestamp returns the most recent row's timestamp.
func (h *Handle) NewestTimestamp() (float64, bool) { return h.buf.NewestTimestamp() }

// LatencyEstimate is wall clock now minus the newest row's timestamp. Only
// meaningful once Active with at least one row; earlier calls fail with
// ErrNotReady.
func (h *Handle) LatencyEstimate() (time.Duration, error) {
	if h.State() != StateActive {
		return 0, ErrNotReady
	}
	ts, ok := h.buf.NewestTimestamp()
	if !ok {
		return 0, ErrNotReady
	}
	return time.Duration((domain.NowSeconds() - ts) * float64(time.Second)), nil
}

// RecordingDuration is rows divided by the nominal sample rate. ErrNotReady
// when the rate is unknown or nothing has arrived.
func (h *Handle) RecordingDuration() (time.Duration, error) {
	if h.opts.NominalRate <= 0 {
		return 0, ErrNotReady
	}
	n := h.buf.Len()
	if n == 0 {
		return 0, ErrNotReady
	}
	return time.Duration(float64(n) / h.opts.NominalRate * float64(time.Second)), nil
}

// SnapshotScaled returns the last n rows with channel values converted to
// volts per the configured unit. Timestamps are never scaled. An unknown
// unit warns and applies the identity scale.
func (h *Handle) SnapshotScaled(n int) []domain.Row {
	rows := h.buf.Tail(n)
	scale, ok := Scalings[h.opts.Unit]
	if !ok {
		if h.opts.Unit != "" {
			h.obs.LogError("unknown_channel_unit", ErrUnknownUnit,
				ports.Field{Key: "stream", Value: h.opts.Key},
				ports.Field{Key: "unit", Value: h.opts.Unit})
		}
		scale = 1
	}
	if scale == 1 {
		return rows
	}
	for i := range rows {
		for j := range rows[i].Values {
			rows[i].Values[j] /= scale
		}
	}
	return rows
}
