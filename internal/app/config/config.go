package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cadigan/CortexFlow/internal/adapters/opcua"
	"github.com/cadigan/CortexFlow/internal/ports"
)

// ErrUnknownStreamKey is returned when a symbolic stream key has no entry in
// the streams registry. Always a configuration mistake, never retryable.
var ErrUnknownStreamKey = errors.New("cortexflow: unknown stream key")

// Config is the root configuration of a CortexFlow edge process.
type Config struct {
	Streams   map[string]StreamSpec `yaml:"streams"`
	Policy    ports.Policy          `yaml:"policy"`
	Sources   []opcua.Config        `yaml:"sources"`
	Metrics   MetricsConfig         `yaml:"metrics"`
	Recorder  RecorderConfig        `yaml:"recorder"`
	Timescale TimescaleConfig       `yaml:"timescale"`
	LogLevel  string                `yaml:"log_level"`
}

// StreamSpec binds a symbolic stream key to a discovery predicate plus the
// stream's shape and metadata.
type StreamSpec struct {
	Predicate   string  `yaml:"predicate"`
	Arity       int     `yaml:"arity"`
	NominalRate float64 `yaml:"nominal_rate"`
	Unit        string  `yaml:"unit"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type RecorderConfig struct {
	// Dir enables on-disk row journaling when non-empty.
	Dir string `yaml:"dir"`
}

type TimescaleConfig struct {
	// ConnString enables the event sink when non-empty.
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Policy.PollInterval == 0 {
		c.Policy.PollInterval = 10 * time.Millisecond
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.TimeCorrection == "" {
		c.Policy.TimeCorrection = "once"
	}
	if c.Policy.OnCallbackError == "" {
		c.Policy.OnCallbackError = "propagate"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "events"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for key, spec := range c.Streams {
		if spec.Arity == 0 {
			spec.Arity = 1
			c.Streams[key] = spec
		}
	}
	for i := range c.Sources {
		c.Sources[i].ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	if len(c.Streams) == 0 {
		return fmt.Errorf("at least one stream must be configured")
	}
	for key, spec := range c.Streams {
		if spec.Predicate == "" {
			return fmt.Errorf("stream %q: predicate is required", key)
		}
		if spec.Arity <= 0 {
			return fmt.Errorf("stream %q: arity must be positive", key)
		}
	}
	switch c.Policy.TimeCorrection {
	case "once", "per_pull":
	default:
		return fmt.Errorf("policy.time_correction must be \"once\" or \"per_pull\", got %q", c.Policy.TimeCorrection)
	}
	switch c.Policy.OnCallbackError {
	case "propagate", "log":
	default:
		return fmt.Errorf("policy.on_callback_error must be \"propagate\" or \"log\", got %q", c.Policy.OnCallbackError)
	}
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	return nil
}

// Stream looks up the spec for a symbolic key. An unknown key is a hard
// configuration error, surfaced at handle construction rather than connect
// time.
func (c *Config) Stream(key string) (StreamSpec, error) {
	spec, ok := c.Streams[key]
	if !ok {
		return StreamSpec{}, fmt.Errorf("%w: %q", ErrUnknownStreamKey, key)
	}
	return spec, nil
}
