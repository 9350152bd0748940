package observability

import "github.com/cadigan/CortexFlow/internal/ports"

// Nop discards everything. Useful for tests and embedded callers that bring
// no telemetry stack.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) LogInfo(string, ...ports.Field)            {}
func (Nop) LogError(string, error, ...ports.Field)    {}
func (Nop) LogCritical(string, error, ...ports.Field) {}
func (Nop) IncCounter(string, float64)                {}
func (Nop) ObserveLatency(string, float64)            {}
func (Nop) SetGauge(string, float64)                  {}
func (Nop) SetStreamGauge(string, string, float64)    {}
func (Nop) RecordShortRead(string, int, int)          {}

var _ ports.Observability = Nop{}
