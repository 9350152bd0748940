package cortexflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cadigan/CortexFlow/internal/adapters/observability"
	"github.com/cadigan/CortexFlow/internal/adapters/opcua"
	"github.com/cadigan/CortexFlow/internal/adapters/recorder"
	"github.com/cadigan/CortexFlow/internal/adapters/sink"
	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
	"github.com/cadigan/CortexFlow/internal/stream"
	"github.com/cadigan/CortexFlow/internal/trigger"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	resolver      ports.SourceResolver
	observability ports.Observability
	eventSink     ports.EventSink
}

// WithResolver injects a custom source resolver (push sources, simulators,
// other protocols) in place of the OPC UA one built from configuration.
func WithResolver(r ports.SourceResolver) RuntimeOption {
	return func(o *runtimeOverrides) { o.resolver = r }
}

// WithObservability plugs in a custom telemetry backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithEventSink injects a custom event-table sink so aligned events can go to
// any store or API.
func WithEventSink(s ports.EventSink) RuntimeOption {
	return func(o *runtimeOverrides) { o.eventSink = s }
}

// Runtime wires stream handles, triggers, recorders, the event sink, and the
// metrics server into one lifecycle.
type Runtime struct {
	cfg      *Config
	obs      ports.Observability
	resolver ports.SourceResolver
	sink     ports.EventSink
	db       *sql.DB

	handles   map[string]*stream.Handle
	recorders map[string]ports.Recorder

	mu       sync.Mutex
	triggers []*trigger.Trigger

	metricsSrv  *http.Server
	gaugeStopCh chan struct{}
	gaugeDoneCh chan struct{}
	started     bool
}

// NewRuntime bootstraps the default adapters: OPC UA resolver from the
// configured sources, Prometheus plus logrus observability, an optional file
// recorder per stream, and an optional Timescale event sink. Stream keys are
// validated against the registry here, so an unknown key never survives to
// connect time.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		promObs := observability.NewPromObs()
		promObs.SetLogLevel(cfg.LogLevel)
		obs = promObs
	}

	resolver := overrides.resolver
	if resolver == nil {
		resolver = opcua.NewResolver(cfg.Sources)
	}

	var (
		db  *sql.DB
		snk ports.EventSink
		err error
	)
	if overrides.eventSink != nil {
		snk = overrides.eventSink
	} else if cfg.Timescale.ConnString != "" {
		db, err = sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			return nil, err
		}
		snk = sink.NewTimescaleSink(db, cfg.Timescale.Table)
	}

	rt := &Runtime{
		cfg:       cfg,
		obs:       obs,
		resolver:  resolver,
		sink:      snk,
		db:        db,
		handles:   make(map[string]*stream.Handle, len(cfg.Streams)),
		recorders: make(map[string]ports.Recorder),
	}

	for key := range cfg.Streams {
		spec, err := cfg.Stream(key)
		if err != nil {
			rt.closePartial()
			return nil, err
		}

		sopts := stream.Options{
			Key:         key,
			Predicate:   spec.Predicate,
			Arity:       spec.Arity,
			NominalRate: spec.NominalRate,
			Unit:        spec.Unit,
		}

		if cfg.Recorder.Dir != "" {
			rec, err := recorder.NewFileRecorder(cfg.Recorder.Dir, key)
			if err != nil {
				rt.closePartial()
				return nil, fmt.Errorf("recorder for stream %q: %w", key, err)
			}
			rt.recorders[key] = rec
			sopts.Tap = func(r domain.Row) {
				if _, err := rec.Append(r); err != nil {
					obs.LogError("recorder_append_failed", err,
						ports.Field{Key: "stream", Value: key})
				}
			}
		}

		h, err := stream.New(sopts, resolver, obs, cfg.Policy)
		if err != nil {
			rt.closePartial()
			return nil, err
		}
		rt.handles[key] = h
	}

	return rt, nil
}

// Handle returns the stream handle for a configured key.
func (r *Runtime) Handle(key string) (*StreamHandle, error) {
	h, ok := r.handles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStreamKey, key)
	}
	return h, nil
}

// Start connects every configured stream and launches the metrics server and
// gauge loop. It returns immediately; call Run to block on a context.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	r.started = true
	r.mu.Unlock()

	for key, h := range r.handles {
		if err := h.Connect(ctx); err != nil {
			return fmt.Errorf("connect stream %q: %w", key, err)
		}
	}

	r.startMetrics()
	return nil
}

// Run starts the runtime and blocks until the context is cancelled, then
// attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// OnGrowth registers and starts a count-threshold trigger: cb runs once per
// rows newly appended rows on the named stream.
func (r *Runtime) OnGrowth(streamKey string, rows int, cb Callback, opts ...TriggerOption) (*Trigger, error) {
	h, err := r.Handle(streamKey)
	if err != nil {
		return nil, err
	}
	t, err := trigger.NewCount(h, rows, cb, r.obs, r.triggerOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return r.startTrigger(t)
}

// OnInterval registers and starts a time-threshold trigger: cb runs once each
// time the stream's newest timestamp advances by d.
func (r *Runtime) OnInterval(streamKey string, d time.Duration, cb Callback, opts ...TriggerOption) (*Trigger, error) {
	h, err := r.Handle(streamKey)
	if err != nil {
		return nil, err
	}
	t, err := trigger.NewTime(h, d, cb, r.obs, r.triggerOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return r.startTrigger(t)
}

// triggerOptions derives defaults from policy, letting explicit options win.
func (r *Runtime) triggerOptions(opts []TriggerOption) []TriggerOption {
	base := []TriggerOption{
		trigger.WithPollInterval(r.cfg.Policy.PollInterval),
		trigger.WithErrorPolicy(r.cfg.Policy.OnCallbackError),
	}
	return append(base, opts...)
}

func (r *Runtime) startTrigger(t *trigger.Trigger) (*Trigger, error) {
	if err := t.Start(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.triggers = append(r.triggers, t)
	r.mu.Unlock()
	return t, nil
}

// Process snapshots the last windowRows of the sample stream, aligns the
// marker stream against it, and hands both to proc. The processor's runtime
// is observed as a latency metric.
func (r *Runtime) Process(sampleKey, markerKey string, windowRows, eventDuration int, proc SignalProcessor) error {
	sampleHandle, err := r.Handle(sampleKey)
	if err != nil {
		return err
	}
	markerHandle, err := r.Handle(markerKey)
	if err != nil {
		return err
	}

	window := sampleHandle.Tail(windowRows)
	events := MakeEvents(window, markerHandle.Snapshot(), eventDuration)

	start := time.Now()
	if err := proc.Process(window, events); err != nil {
		r.obs.LogError("processor_failed", err,
			ports.Field{Key: "stream", Value: sampleKey})
		return err
	}
	r.obs.ObserveLatency("cortex_processor_seconds", time.Since(start).Seconds())
	return nil
}

// Events snapshots the last windowRows of the sample stream and the whole
// marker stream, aligns them, and writes the table to the event sink when one
// is configured.
func (r *Runtime) Events(sampleKey, markerKey string, windowRows, eventDuration int) ([]EventRow, error) {
	sampleHandle, err := r.Handle(sampleKey)
	if err != nil {
		return nil, err
	}
	markerHandle, err := r.Handle(markerKey)
	if err != nil {
		return nil, err
	}

	window := sampleHandle.Tail(windowRows)
	markers := markerHandle.Snapshot()
	events := MakeEvents(window, markers, eventDuration)

	if r.sink != nil {
		if err := r.sink.WriteEvents(sampleKey, events); err != nil {
			r.obs.LogError("event_sink_write_failed", err,
				ports.Field{Key: "stream", Value: sampleKey},
				ports.Field{Key: "sink", Value: r.sink.Name()})
			return events, err
		}
	}
	return events, nil
}

// Shutdown stops triggers, streams, recorders, the metrics server, and the
// database connection. Safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	r.mu.Lock()
	triggers := r.triggers
	r.triggers = nil
	r.mu.Unlock()
	for _, t := range triggers {
		t.Stop()
	}

	for key, h := range r.handles {
		if err := h.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream %q: %w", key, err))
		}
	}

	for key, rec := range r.recorders {
		if err := rec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recorder %q: %w", key, err))
		}
	}

	r.mu.Lock()
	gaugeStop, gaugeDone := r.gaugeStopCh, r.gaugeDoneCh
	srv := r.metricsSrv
	db := r.db
	r.gaugeStopCh = nil
	r.gaugeDoneCh = nil
	r.metricsSrv = nil
	r.db = nil
	r.mu.Unlock()

	if gaugeStop != nil {
		close(gaugeStop)
		<-gaugeDone
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	reg, ok := r.obs.(interface{ Registry() *prometheus.Registry })
	if !ok {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	r.mu.Lock()
	r.metricsSrv = srv
	r.gaugeStopCh = stop
	r.gaugeDoneCh = done
	r.mu.Unlock()

	// The goroutine holds its own reference; Shutdown may nil the field
	// at any moment.
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
	go r.recordResourceGauges(stop, done, time.Second)
}

func (r *Runtime) recordResourceGauges(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for key, h := range r.handles {
				r.obs.SetStreamGauge("cortex_buffer_rows", key, float64(h.Len()))
				if lat, err := h.LatencyEstimate(); err == nil {
					r.obs.SetStreamGauge("cortex_stream_latency_seconds", key, lat.Seconds())
				}
			}
		}
	}
}

func (r *Runtime) closePartial() {
	for _, rec := range r.recorders {
		_ = rec.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}
