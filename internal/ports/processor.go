package ports

import "github.com/cadigan/CortexFlow/internal/domain"

// SignalProcessor consumes a sample window together with its aligned event
// table. Filtering, decomposition, and epoch construction live behind this
// boundary and are not part of the data plane.
type SignalProcessor interface {
	Process(window []domain.Row, events []domain.EventRow) error
}
