package cortexflow

import (
	"github.com/cadigan/CortexFlow/internal/adapters/opcua"
	"github.com/cadigan/CortexFlow/internal/app/config"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// StreamSpec binds a symbolic stream key to a discovery predicate.
	StreamSpec = config.StreamSpec
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// RecorderConfig configures on-disk row journaling.
	RecorderConfig = config.RecorderConfig
	// TimescaleConfig configures the event sink.
	TimescaleConfig = config.TimescaleConfig
	// OPCUAConfig holds connection and node details for one OPC UA source.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig describes a monitored node/channel.
	OPCUANodeConfig = opcua.NodeConfig
)

// ErrUnknownStreamKey is returned when a symbolic stream key has no entry in
// the streams registry.
var ErrUnknownStreamKey = config.ErrUnknownStreamKey

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
