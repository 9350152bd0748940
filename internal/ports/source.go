package ports

import (
	"context"
	"errors"
)

// ErrSourceDiscovery indicates a discovery predicate matched zero or more than
// one source. The connection attempt failed but the caller may retry.
var ErrSourceDiscovery = errors.New("cortexflow: predicate did not match exactly one source")

// SampleSource delivers timestamped samples from one data source (OPC UA
// subscription, serial board, in-process generator, etc.). Pull blocks until
// the next sample is available or ctx is cancelled.
type SampleSource interface {
	Pull(ctx context.Context) (values []float64, timestamp float64, err error)

	// TimeCorrection returns the offset in seconds to add to source
	// timestamps to approximate the local clock. Whether it is queried once
	// per connection or once per pull is a policy decision, not the
	// source's.
	TimeCorrection(ctx context.Context) (float64, error)

	Close() error
}

// SourceResolver turns a discovery predicate into exactly one open source.
// Zero or multiple matches fail with ErrSourceDiscovery.
type SourceResolver interface {
	Resolve(ctx context.Context, predicate string) (SampleSource, error)
}
