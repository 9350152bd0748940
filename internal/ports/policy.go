package ports

import "time"

type Policy struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	IdleSleep    time.Duration `yaml:"idle_sleep"`

	// TimeCorrection is "once" (query the source offset at connect time) or
	// "per_pull" (re-query before every sample). The source systems this was
	// modeled on never settled the latency-accounting tradeoff, so it stays
	// a knob rather than a hard-coded choice.
	TimeCorrection string `yaml:"time_correction"` // "once", "per_pull"

	OnCallbackError string `yaml:"on_callback_error"` // "propagate", "log"
}
