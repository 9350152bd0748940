package ports

import "github.com/cadigan/CortexFlow/internal/domain"

// Recorder journals rows to durable storage as they arrive so a session can
// be replayed or exported offline.
type Recorder interface {
	Append(r domain.Row) (seq uint64, err error)
	Iterate(from uint64, fn func(seq uint64, r domain.Row) error) error
	Flush() error
	Stats() RecorderStats
	Close() error
}

type RecorderStats struct {
	LastSeq   uint64
	SizeBytes int64
}
