// Package buffer implements the append-only row store that backs every
// stream. One writer appends, any number of readers take deep-copied
// snapshots; rows are never removed or reordered.
package buffer

import (
	"fmt"
	"sync"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
)

// AppendOnly is safe for one writer and many concurrent readers. The lock is
// held only while copying row references; deep copies happen outside it so a
// slow reader cannot stall the writer.
type AppendOnly struct {
	mu       sync.RWMutex
	rows     []domain.Row
	streamID string
	arity    int
	obs      ports.Observability
}

// New returns an empty buffer accepting rows of exactly arity channel values.
func New(streamID string, arity int, obs ports.Observability) *AppendOnly {
	if arity <= 0 {
		panic(fmt.Sprintf("buffer %s: arity must be positive, got %d", streamID, arity))
	}
	return &AppendOnly{
		streamID: streamID,
		arity:    arity,
		obs:      obs,
	}
}

// Append adds one row. A row of the wrong arity is a programmer error and
// panics; appending never fails otherwise.
func (b *AppendOnly) Append(r domain.Row) {
	if len(r.Values) != b.arity {
		panic(fmt.Sprintf("buffer %s: row arity %d, want %d", b.streamID, len(r.Values), b.arity))
	}
	b.mu.Lock()
	b.rows = append(b.rows, r)
	b.mu.Unlock()
}

// Len returns the committed row count.
func (b *AppendOnly) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Arity returns the channel count rows must carry.
func (b *AppendOnly) Arity() int { return b.arity }

// Snapshot returns an independent deep copy of the whole buffer. An empty
// buffer yields an empty snapshot, not an error.
func (b *AppendOnly) Snapshot() []domain.Row {
	b.mu.RLock()
	refs := b.rows
	b.mu.RUnlock()
	return deepCopy(refs)
}

// Tail returns a deep copy of the last n rows. Asking for more rows than
// exist is a short read: the call succeeds with everything available and the
// shortfall is reported through observability.
func (b *AppendOnly) Tail(n int) []domain.Row {
	if n <= 0 {
		return nil
	}
	b.mu.RLock()
	total := len(b.rows)
	take := n
	if take > total {
		take = total
	}
	refs := b.rows[total-take:]
	b.mu.RUnlock()

	if take < n && b.obs != nil {
		b.obs.RecordShortRead(b.streamID, n, take)
	}
	return deepCopy(refs)
}

// NewestTimestamp returns the timestamp of the most recently appended row.
// The second return is false while the buffer is empty.
func (b *AppendOnly) NewestTimestamp() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.rows) == 0 {
		return 0, false
	}
	return b.rows[len(b.rows)-1].Timestamp, true
}

// deepCopy clones every row so the result shares no storage with the live
// buffer. refs is a snapshot of slice headers taken under the read lock;
// append-only discipline guarantees those rows are immutable by now.
func deepCopy(refs []domain.Row) []domain.Row {
	out := make([]domain.Row, len(refs))
	for i := range refs {
		out[i] = refs[i].Clone()
	}
	return out
}
