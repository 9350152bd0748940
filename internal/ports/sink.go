package ports

import "github.com/cadigan/CortexFlow/internal/domain"

// EventSink persists event tables to a downstream system.
type EventSink interface {
	WriteEvents(streamID string, events []domain.EventRow) error
	Name() string
}
