package cortexflow

import (
	"github.com/cadigan/CortexFlow/internal/align"
	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
	"github.com/cadigan/CortexFlow/internal/stream"
	"github.com/cadigan/CortexFlow/internal/trigger"
)

// Row is one timestamped record: channel values plus a timestamp in seconds.
type Row = domain.Row

// EventRow is one entry of an aligned event table.
type EventRow = domain.EventRow

// StreamHandle owns one stream's buffer and connection lifecycle.
type StreamHandle = stream.Handle

// StreamState is the handle lifecycle state (idle, connecting, active, stopped).
type StreamState = stream.State

// Trigger fires a callback once per threshold-unit of buffer growth.
type Trigger = trigger.Trigger

// Fire describes one threshold crossing; it is the callback's argument.
type Fire = trigger.Fire

// Callback is the user work run on each trigger firing.
type Callback = trigger.Callback

// TriggerOption customizes a trigger (poll interval, feedback, error policy,
// stop conditions).
type TriggerOption = trigger.Option

type (
	// SampleSource delivers timestamped samples from one data source.
	SampleSource = ports.SampleSource
	// SourceResolver turns a discovery predicate into exactly one source.
	SourceResolver = ports.SourceResolver
	// FeedbackSink displays trigger callback output.
	FeedbackSink = ports.FeedbackSink
	// SignalProcessor consumes windows plus event tables downstream.
	SignalProcessor = ports.SignalProcessor
	// EventSink persists event tables.
	EventSink = ports.EventSink
	// Recorder journals rows to durable storage.
	Recorder = ports.Recorder
	// Observability emits metrics and structured logs.
	Observability = ports.Observability
	// Field is a structured log field.
	Field = ports.Field
	// Policy holds polling, time-correction, and error-handling knobs.
	Policy = ports.Policy
)

// Trigger option re-exports.
var (
	WithPollInterval = trigger.WithPollInterval
	WithFeedback     = trigger.WithFeedback
	WithErrorPolicy  = trigger.WithErrorPolicy
	WithMaxFires     = trigger.WithMaxFires
	WithMaxDuration  = trigger.WithMaxDuration
)

// ProcessorFunc adapts a plain function into a SignalProcessor.
type ProcessorFunc func(window []Row, events []EventRow) error

func (f ProcessorFunc) Process(window []Row, events []EventRow) error {
	return f(window, events)
}

// MakeEvents aligns marker rows against a sample window by nearest timestamp,
// returning the sentinel row (0,0,0) when nothing qualifies.
func MakeEvents(window, markers []Row, eventDuration int) []EventRow {
	return align.MakeEvents(window, markers, eventDuration)
}

// Re-exported errors so callers can test with errors.Is against the facade.
var (
	ErrAlreadyConnected = stream.ErrAlreadyConnected
	ErrNotReady         = stream.ErrNotReady
	ErrStopped          = stream.ErrStopped
	ErrSourceDiscovery  = ports.ErrSourceDiscovery
)
