package stream

import (
	"context"
	"errors"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/lifecycle"
	"github.com/cadigan/CortexFlow/internal/ports"
)

// Metric names used by the ingestion task.
const (
	MetricRowsAppended   = "cortex_rows_appended_total"
	MetricIngestFailures = "cortex_ingest_failures_total"
)

// ingest pulls rows from src until the token is raised or the source fails.
// Cancellation is cooperative: it is checked before each pull, and the pull
// itself is interruptible through the bound context, so shutdown completes
// within one pull cycle.
func (h *Handle) ingest(token *lifecycle.Token, done chan struct{}, src ports.SampleSource, offset float64) {
	defer close(done)

	ctx, cancel := token.Bind(context.Background())
	defer cancel()

	for {
		if token.IsCancelled() {
			return
		}

		values, ts, err := src.Pull(ctx)
		if err != nil {
			if token.IsCancelled() || errors.Is(err, context.Canceled) {
				return
			}
			h.ingestFailed(src, err)
			return
		}

		if h.pol.TimeCorrection == "per_pull" {
			corr, err := src.TimeCorrection(ctx)
			if err != nil {
				if token.IsCancelled() || errors.Is(err, context.Canceled) {
					return
				}
				h.ingestFailed(src, err)
				return
			}
			offset = corr
		}

		row := domain.Row{Values: values, Timestamp: ts + offset}
		h.buf.Append(row)
		h.obs.IncCounter(MetricRowsAppended, 1)
		if h.opts.Tap != nil {
			h.opts.Tap(row)
		}
	}
}

// ingestFailed records a source failure so it is observable through Err()
// rather than the task going quiet. The handle returns to Idle; reconnecting
// binds a fresh task.
func (h *Handle) ingestFailed(src ports.SampleSource, err error) {
	_ = src.Close()

	h.mu.Lock()
	if h.state == StateActive {
		h.state = StateIdle
	}
	h.source = nil
	h.runErr = err
	h.mu.Unlock()

	h.obs.IncCounter(MetricIngestFailures, 1)
	h.obs.LogError("ingestion_stopped", err,
		ports.Field{Key: "stream", Value: h.opts.Key},
		ports.Field{Key: "handle", Value: h.id})
}
