package cortexflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSynthesizeSignalProducesRows(t *testing.T) {
	src := NewPushSource("signal", 64, 0)
	gen := SynthesizeSignal(src, 4, 500)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var lastTS float64
	for i := 0; i < 10; i++ {
		values, ts, err := src.Pull(ctx)
		require.NoError(t, err)
		require.Len(t, values, 4)
		require.Greater(t, ts, lastTS)
		lastTS = ts
	}

	gen.Stop()
	gen.Stop() // idempotent
}

func TestSynthesizeMarkersDrawsFromValues(t *testing.T) {
	src := NewPushSource("markers", 16, 0)
	gen := SynthesizeMarkers(src, []int{7}, 2*time.Millisecond)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		values, _, err := src.Pull(ctx)
		require.NoError(t, err)
		require.Equal(t, []float64{7}, values)
	}

	gen.Stop()
}

func TestSynthesizerStopsPushing(t *testing.T) {
	src := NewPushSource("markers", 16, 0)
	gen := SynthesizeMarkers(src, []int{1}, time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	gen.Stop()

	// Drain whatever was produced, then confirm nothing new arrives.
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, _, err := src.Pull(ctx)
		cancel()
		if err != nil {
			break
		}
	}
	require.NoError(t, src.Close())
}
