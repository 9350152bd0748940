package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncCounterRegistersAndAccumulates(t *testing.T) {
	obs := NewPromObs()

	obs.IncCounter("cortex_rows_appended_total", 1)
	obs.IncCounter("cortex_rows_appended_total", 2)

	got := testutil.ToFloat64(obs.counters["cortex_rows_appended_total"])
	if got != 3 {
		t.Fatalf("counter value %f, want 3", got)
	}
}

func TestSetGaugeOverwrites(t *testing.T) {
	obs := NewPromObs()

	obs.SetGauge("cortex_uptime_seconds", 10)
	obs.SetGauge("cortex_uptime_seconds", 4)

	got := testutil.ToFloat64(obs.gauges["cortex_uptime_seconds"])
	if got != 4 {
		t.Fatalf("gauge value %f, want 4", got)
	}
}

func TestSetStreamGaugeAcceptsArbitraryStreamKeys(t *testing.T) {
	obs := NewPromObs()

	// Stream ids come from YAML map keys, so hyphens and dots must work;
	// they travel as a label, not as part of the metric name.
	obs.SetStreamGauge("cortex_buffer_rows", "eeg-rig", 10)
	obs.SetStreamGauge("cortex_buffer_rows", "eeg-rig", 4)
	obs.SetStreamGauge("cortex_buffer_rows", "marker.box", 1)

	vec := obs.gaugeVecs["cortex_buffer_rows"]
	if got := testutil.ToFloat64(vec.WithLabelValues("eeg-rig")); got != 4 {
		t.Fatalf("eeg-rig gauge %f, want 4", got)
	}
	if got := testutil.ToFloat64(vec.WithLabelValues("marker.box")); got != 1 {
		t.Fatalf("marker.box gauge %f, want 1", got)
	}
}

func TestRecordShortReadCountsPerStream(t *testing.T) {
	obs := NewPromObs()

	obs.RecordShortRead("eeg", 100, 40)
	obs.RecordShortRead("eeg", 100, 80)
	obs.RecordShortRead("markers", 5, 0)

	if got := testutil.ToFloat64(obs.shortReads.WithLabelValues("eeg")); got != 2 {
		t.Fatalf("eeg short reads %f, want 2", got)
	}
	if got := testutil.ToFloat64(obs.shortReads.WithLabelValues("markers")); got != 1 {
		t.Fatalf("markers short reads %f, want 1", got)
	}
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	a := NewPromObs()
	b := NewPromObs()

	// Same metric name on two instances must not panic on registration.
	a.IncCounter("cortex_trigger_fires_total", 1)
	b.IncCounter("cortex_trigger_fires_total", 5)

	if got := testutil.ToFloat64(a.counters["cortex_trigger_fires_total"]); got != 1 {
		t.Fatalf("instance a counter %f, want 1", got)
	}
	if got := testutil.ToFloat64(b.counters["cortex_trigger_fires_total"]); got != 5 {
		t.Fatalf("instance b counter %f, want 5", got)
	}
}

func TestObserveLatencyRegistersHistogram(t *testing.T) {
	obs := NewPromObs()

	obs.ObserveLatency("cortex_callback_seconds", 0.05)
	obs.ObserveLatency("cortex_callback_seconds", 0.5)

	families, err := obs.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "cortex_callback_seconds" {
			if count := fam.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
				t.Fatalf("histogram sample count %d, want 2", count)
			}
			return
		}
	}
	t.Fatal("histogram not registered")
}
