package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cadigan/CortexFlow/pkg/cortexflow"
)

// Feeds synthetic signal and marker streams into the runtime, then runs a
// window analysis every 100 rows of buffer growth.
func main() {
	signal := cortexflow.NewPushSource("signal", 256, 0)
	markers := cortexflow.NewPushSource("markers", 16, 0)
	resolver := cortexflow.NewStaticResolver(signal, markers)

	sig := cortexflow.SynthesizeSignal(signal, 8, 100)
	defer sig.Stop()
	mrk := cortexflow.SynthesizeMarkers(markers, []int{1, 2}, 5*time.Second)
	defer mrk.Stop()

	cfg := &cortexflow.Config{
		Streams: map[string]cortexflow.StreamSpec{
			"signal":  {Predicate: "signal", Arity: 8, NominalRate: 100, Unit: "microvolts"},
			"markers": {Predicate: "markers", Arity: 1},
		},
	}
	cfg.ApplyDefaults()

	rt, err := cortexflow.NewRuntime(cfg, cortexflow.WithResolver(resolver))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start runtime: %v", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = rt.Shutdown(shutdownCtx)
	}()

	analysis := func(f cortexflow.Fire) (string, error) {
		events, err := rt.Events("signal", "markers", 100, 1)
		if err != nil {
			return "", err
		}
		for _, ev := range events {
			fmt.Printf("fire=%d sample=%d marker=%d\n", f.Seq, ev.SampleIndex, ev.Marker)
		}
		return fmt.Sprintf("window %d: %d events", f.Seq, len(events)), nil
	}

	trig, err := rt.OnGrowth("signal", 100, analysis)
	if err != nil {
		log.Fatalf("start trigger: %v", err)
	}

	<-ctx.Done()
	trig.Stop()
	if err := trig.Err(); err != nil {
		log.Fatalf("analysis failed: %v", err)
	}
}
