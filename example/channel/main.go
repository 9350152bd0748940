package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cadigan/CortexFlow"
)

// Presents analysis output through a channel-backed feedback sink so a UI
// goroutine can consume it, the way a stimulus display would.
func main() {
	source := cortexflow.NewPushSource("signal", 256, 0)
	resolver := cortexflow.NewStaticResolver(source)

	gen := cortexflow.SynthesizeSignal(source, 4, 100)
	defer gen.Stop()

	cfg := &cortexflow.Config{
		Streams: map[string]cortexflow.StreamSpec{
			"signal": {Predicate: "signal", Arity: 4, NominalRate: 100},
		},
	}
	cfg.ApplyDefaults()

	rt, err := cortexflow.NewRuntime(cfg, cortexflow.WithResolver(resolver))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		log.Fatalf("start runtime: %v", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = rt.Shutdown(shutdownCtx)
	}()

	feedback, lines, closeLines := cortexflow.NewChannelFeedback("display", 8)
	defer closeLines()

	go displayWorker(lines)

	cb := func(f cortexflow.Fire) (string, error) {
		return fmt.Sprintf("buffer at %d rows", f.BufferLen), nil
	}

	if _, err := rt.OnGrowth("signal", 50, cb, cortexflow.WithFeedback(feedback)); err != nil {
		log.Fatalf("start trigger: %v", err)
	}

	<-ctx.Done()
}

func displayWorker(lines <-chan string) {
	for text := range lines {
		fmt.Printf("[display] %s at %s\n", text, time.Now().Format(time.RFC3339))
	}
}
