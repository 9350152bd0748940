package cortexflow

import (
	"time"

	base "github.com/cadigan/CortexFlow/pkg/cortexflow"
)

// Re-exported errors for convenience.
var (
	ErrAlreadyConnected = base.ErrAlreadyConnected
	ErrNotReady         = base.ErrNotReady
	ErrStopped          = base.ErrStopped
	ErrSourceDiscovery  = base.ErrSourceDiscovery
	ErrUnknownStreamKey = base.ErrUnknownStreamKey
	ErrPushSourceClosed = base.ErrPushSourceClosed
	ErrFeedbackClosed   = base.ErrFeedbackClosed
)

// Type aliases so consumers can import github.com/cadigan/CortexFlow directly.
type (
	Config          = base.Config
	StreamSpec      = base.StreamSpec
	Policy          = base.Policy
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	TimescaleConfig = base.TimescaleConfig
	MetricsConfig   = base.MetricsConfig
	RecorderConfig  = base.RecorderConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Row             = base.Row
	EventRow        = base.EventRow
	StreamHandle    = base.StreamHandle
	StreamState     = base.StreamState
	Trigger         = base.Trigger
	TriggerOption   = base.TriggerOption
	Fire            = base.Fire
	Callback        = base.Callback
	SampleSource    = base.SampleSource
	SourceResolver  = base.SourceResolver
	FeedbackSink    = base.FeedbackSink
	FeedbackFunc    = base.FeedbackFunc
	SignalProcessor = base.SignalProcessor
	ProcessorFunc   = base.ProcessorFunc
	EventSink       = base.EventSink
	Recorder        = base.Recorder
	Observability   = base.Observability
	Field           = base.Field
	PushSource      = base.PushSource
	StaticResolver  = base.StaticResolver
	Synthesizer     = base.Synthesizer
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInResolver(r SourceResolver) StreamInOption {
	return base.StreamInResolver(r)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s EventSink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithResolver(r SourceResolver) RuntimeOption {
	return base.WithResolver(r)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithEventSink(s EventSink) RuntimeOption {
	return base.WithEventSink(s)
}

// Trigger options.
var (
	WithPollInterval = base.WithPollInterval
	WithFeedback     = base.WithFeedback
	WithErrorPolicy  = base.WithErrorPolicy
	WithMaxFires     = base.WithMaxFires
	WithMaxDuration  = base.WithMaxDuration
)

// Event alignment.
func MakeEvents(window, markers []Row, eventDuration int) []EventRow {
	return base.MakeEvents(window, markers, eventDuration)
}

// Push sources and feedback adapters.
func NewPushSource(name string, buffer int, offset float64) *PushSource {
	return base.NewPushSource(name, buffer, offset)
}

func NewStaticResolver(sources ...*PushSource) *StaticResolver {
	return base.NewStaticResolver(sources...)
}

func NewCallbackFeedback(name string, fn FeedbackFunc) FeedbackSink {
	return base.NewCallbackFeedback(name, fn)
}

func NewChannelFeedback(name string, buffer int) (FeedbackSink, <-chan string, func()) {
	return base.NewChannelFeedback(name, buffer)
}

// Synthetic data generators.
func SynthesizeSignal(src *PushSource, arity int, rate float64) *Synthesizer {
	return base.SynthesizeSignal(src, arity, rate)
}

func SynthesizeMarkers(src *PushSource, values []int, interval time.Duration) *Synthesizer {
	return base.SynthesizeMarkers(src, values, interval)
}
