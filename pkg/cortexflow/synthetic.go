package cortexflow

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cadigan/CortexFlow/internal/domain"
)

// Synthesizer feeds a PushSource with generated data so pipelines can be
// exercised without hardware: a noisy multi-channel sine for dense streams,
// or sparse random integer markers.
type Synthesizer struct {
	src  *PushSource
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// SynthesizeSignal starts a generator pushing arity-channel sine-plus-noise
// rows at rate samples per second until Stop.
func SynthesizeSignal(src *PushSource, arity int, rate float64) *Synthesizer {
	s := newSynthesizer(src)
	go s.runSignal(arity, rate)
	return s
}

// SynthesizeMarkers starts a generator pushing one random marker from values
// every interval until Stop.
func SynthesizeMarkers(src *PushSource, values []int, interval time.Duration) *Synthesizer {
	s := newSynthesizer(src)
	go s.runMarkers(values, interval)
	return s
}

func newSynthesizer(src *PushSource) *Synthesizer {
	return &Synthesizer{
		src:  src,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Stop halts generation and waits for the goroutine to exit. Idempotent.
func (s *Synthesizer) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Synthesizer) runSignal(arity int, rate float64) {
	defer close(s.done)

	const carrierHz = 50.0
	period := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var i int
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		i++
		y := math.Sin(2 * math.Pi * carrierHz * float64(i) / rate)
		values := make([]float64, arity)
		for c := range values {
			values[c] = y + rng.NormFloat64()
		}
		if err := s.src.Push(values, domain.NowSeconds()); err != nil {
			return
		}
	}
}

func (s *Synthesizer) runMarkers(values []int, interval time.Duration) {
	defer close(s.done)

	if len(values) == 0 {
		values = []int{1, 2}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		marker := values[rng.Intn(len(values))]
		if err := s.src.Push([]float64{float64(marker)}, domain.NowSeconds()); err != nil {
			return
		}
	}
}
