package domain

import "time"

// Row is the canonical unit of streamed data in CortexFlow: a fixed number of
// channel values followed by one timestamp in seconds. The timestamp is
// monotonic within a stream; cross-stream comparability is only as good as the
// per-connection time correction applied at append time.
type Row struct {
	Values    []float64
	Timestamp float64
}

// Arity returns the number of channel values in the row.
func (r Row) Arity() int { return len(r.Values) }

// Clone returns a copy of the row that shares no storage with the original.
func (r Row) Clone() Row {
	out := Row{Timestamp: r.Timestamp}
	if len(r.Values) > 0 {
		out.Values = make([]float64, len(r.Values))
		copy(out.Values, r.Values)
	}
	return out
}

// Marker interprets the row as a marker record and returns its integer value.
// Marker rows carry a single channel value.
func (r Row) Marker() int {
	if len(r.Values) == 0 {
		return 0
	}
	return int(r.Values[0])
}

// EventRow is one entry of an event table: the position of a marker inside a
// sample window, the configured event duration, and the marker value itself.
type EventRow struct {
	SampleIndex int
	Duration    int
	Marker      int
}

// NowSeconds returns the local wall clock as float seconds, the same unit rows
// are stamped in.
func NowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
