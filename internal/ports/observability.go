package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	// SetStreamGauge records a per-stream gauge. The stream id travels as
	// a label, never as part of the metric name, so arbitrary configured
	// keys stay valid.
	SetStreamGauge(name, streamID string, v float64)

	// RecordShortRead notes that a snapshot asked for more rows than the
	// buffer holds. Non-fatal; the caller got the longest available prefix.
	RecordShortRead(streamID string, requested, available int)
}

type Field struct {
	Key   string
	Value any
}
