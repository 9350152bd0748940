// Package observability backs the ports.Observability interface with
// Prometheus metrics and logrus structured logs.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/cadigan/CortexFlow/internal/ports"
)

// PromObs registers metrics on its own registry so multiple instances (and
// tests) never collide on the global default.
type PromObs struct {
	registry *prometheus.Registry
	log      *logrus.Logger

	mu        sync.Mutex
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge
	gaugeVecs map[string]*prometheus.GaugeVec
	histos    map[string]prometheus.Observer

	shortReads *prometheus.CounterVec
}

func NewPromObs() *PromObs {
	reg := prometheus.NewRegistry()

	shortReads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_snapshot_short_reads_total",
		Help: "Snapshots that requested more rows than the buffer held.",
	}, []string{"stream"})
	reg.MustRegister(shortReads)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &PromObs{
		registry:   reg,
		log:        log,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		gaugeVecs:  make(map[string]*prometheus.GaugeVec),
		histos:     make(map[string]prometheus.Observer),
		shortReads: shortReads,
	}
}

// Registry exposes the backing registry for the metrics HTTP handler.
func (p *PromObs) Registry() *prometheus.Registry { return p.registry }

// SetLogLevel adjusts verbosity ("debug", "info", "warn", "error").
func (p *PromObs) SetLogLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		p.log.SetLevel(lvl)
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.WithFields(toLogrus(fields)).Info(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	entry := p.log.WithFields(toLogrus(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	entry := p.log.WithFields(toLogrus(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	// Fatal would exit the process; the data plane must keep running.
	entry.Error("CRITICAL: " + msg)
}

// IncCounter adds v to the named counter, creating and registering it on
// first use.
func (p *PromObs) IncCounter(name string, v float64) {
	p.mu.Lock()
	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: "CortexFlow counter " + name + ".",
		})
		p.registry.MustRegister(c)
		p.counters[name] = c
	}
	p.mu.Unlock()
	c.Add(v)
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	p.mu.Lock()
	h, ok := p.histos[name]
	if !ok {
		hist := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    "CortexFlow latency histogram " + name + ".",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		})
		p.registry.MustRegister(hist)
		p.histos[name] = hist
		h = hist
	}
	p.mu.Unlock()
	h.Observe(seconds)
}

func (p *PromObs) SetGauge(name string, v float64) {
	p.mu.Lock()
	g, ok := p.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: "CortexFlow gauge " + name + ".",
		})
		p.registry.MustRegister(g)
		p.gauges[name] = g
	}
	p.mu.Unlock()
	g.Set(v)
}

// SetStreamGauge records v on the named gauge with the stream id as a label.
// Keys from configuration are arbitrary, so they never enter the metric name.
func (p *PromObs) SetStreamGauge(name, streamID string, v float64) {
	p.mu.Lock()
	g, ok := p.gaugeVecs[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: "CortexFlow per-stream gauge " + name + ".",
		}, []string{"stream"})
		p.registry.MustRegister(g)
		p.gaugeVecs[name] = g
	}
	p.mu.Unlock()
	g.WithLabelValues(streamID).Set(v)
}

func (p *PromObs) RecordShortRead(streamID string, requested, available int) {
	p.shortReads.WithLabelValues(streamID).Inc()
	p.log.WithFields(logrus.Fields{
		"stream":    streamID,
		"requested": requested,
		"available": available,
	}).Warn("snapshot short read")
}

func toLogrus(fields []ports.Field) logrus.Fields {
	if len(fields) == 0 {
		return nil
	}
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
