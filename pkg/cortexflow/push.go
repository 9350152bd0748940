package cortexflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
)

// ErrPushSourceClosed is returned by Push and Pull after Close.
var ErrPushSourceClosed = errors.New("cortexflow: push source closed")

// PushSource is a SampleSource fed by the caller: external producers (serial
// readers, simulators, tests) push rows and the ingestion task pulls them.
type PushSource struct {
	name   string
	offset float64

	rowCh     chan domain.Row
	closedCh  chan struct{}
	closeOnce sync.Once
}

// NewPushSource creates a push-fed source. buffer bounds how many rows may be
// in flight between producer and ingestion; offset is returned from
// TimeCorrection.
func NewPushSource(name string, buffer int, offset float64) *PushSource {
	if buffer <= 0 {
		buffer = 1024
	}
	return &PushSource{
		name:     name,
		offset:   offset,
		rowCh:    make(chan domain.Row, buffer),
		closedCh: make(chan struct{}),
	}
}

// Name returns the identity used for predicate matching by StaticResolver.
func (p *PushSource) Name() string { return p.name }

// Push hands one sample to the source, blocking while the buffer is full.
func (p *PushSource) Push(values []float64, timestamp float64) error {
	row := domain.Row{Values: values, Timestamp: timestamp}
	select {
	case <-p.closedCh:
		return ErrPushSourceClosed
	default:
	}
	select {
	case <-p.closedCh:
		return ErrPushSourceClosed
	case p.rowCh <- row:
		return nil
	}
}

func (p *PushSource) Pull(ctx context.Context) ([]float64, float64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-p.closedCh:
		// Drain what was pushed before the close so no data is lost.
		select {
		case row := <-p.rowCh:
			return row.Values, row.Timestamp, nil
		default:
			return nil, 0, ErrPushSourceClosed
		}
	case row := <-p.rowCh:
		return row.Values, row.Timestamp, nil
	}
}

func (p *PushSource) TimeCorrection(context.Context) (float64, error) {
	return p.offset, nil
}

// Close unblocks pending Push and Pull calls. Idempotent.
func (p *PushSource) Close() error {
	p.closeOnce.Do(func() { close(p.closedCh) })
	return nil
}

// StaticResolver resolves predicates against a fixed set of named sources,
// with the same exactly-one-match contract as real discovery: zero or
// multiple matches fail with ErrSourceDiscovery.
type StaticResolver struct {
	mu      sync.Mutex
	sources []*PushSource
}

func NewStaticResolver(sources ...*PushSource) *StaticResolver {
	return &StaticResolver{sources: sources}
}

// Add registers another source after construction.
func (r *StaticResolver) Add(src *PushSource) {
	r.mu.Lock()
	r.sources = append(r.sources, src)
	r.mu.Unlock()
}

func (r *StaticResolver) Resolve(_ context.Context, predicate string) (ports.SampleSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matches []*PushSource
	for _, src := range r.sources {
		if src.Name() == predicate {
			matches = append(matches, src)
		}
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("%w: predicate %q matched %d sources",
			ports.ErrSourceDiscovery, predicate, len(matches))
	}
	return matches[0], nil
}

var (
	_ ports.SampleSource   = (*PushSource)(nil)
	_ ports.SourceResolver = (*StaticResolver)(nil)
)
