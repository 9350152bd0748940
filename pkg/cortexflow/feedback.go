package cortexflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cadigan/CortexFlow/internal/ports"
)

// ErrFeedbackClosed is returned when a channel feedback sink is written to
// after being closed.
var ErrFeedbackClosed = errors.New("cortexflow: feedback sink closed")

// FeedbackFunc is a bare display function.
type FeedbackFunc func(text string) error

// NewCallbackFeedback adapts a function into a FeedbackSink so callers can
// plug arbitrary displays without defining structs.
func NewCallbackFeedback(name string, fn FeedbackFunc) FeedbackSink {
	if name == "" {
		name = "callback"
	}
	return &callbackFeedback{name: name, fn: fn}
}

// NewChannelFeedback exposes payloads via a channel; it returns the sink, the
// read-only channel, and a close function for shutdown.
func NewChannelFeedback(name string, buffer int) (FeedbackSink, <-chan string, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan string, buffer)
	s := &channelFeedback{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackFeedback struct {
	name string
	fn   FeedbackFunc
}

func (s *callbackFeedback) Display(text string) error {
	if s.fn == nil {
		return fmt.Errorf("feedback sink %q: nil handler", s.name)
	}
	return s.fn(text)
}

func (s *callbackFeedback) Name() string { return s.name }

type channelFeedback struct {
	name   string
	ch     chan string
	closed chan struct{}

	mu       sync.Mutex
	inflight sync.WaitGroup
	isClosed bool
}

// Display sends on the payload channel. The channel itself is only closed
// once every in-flight send has returned, so a Display racing close can
// never hit a closed channel.
func (s *channelFeedback) Display(text string) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return ErrFeedbackClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case <-s.closed:
		return ErrFeedbackClosed
	case s.ch <- text:
		return nil
	}
}

func (s *channelFeedback) Name() string { return s.name }

func (s *channelFeedback) close() {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return
	}
	s.isClosed = true
	close(s.closed)
	s.mu.Unlock()

	s.inflight.Wait()
	close(s.ch)
}

var (
	_ ports.FeedbackSink = (*callbackFeedback)(nil)
	_ ports.FeedbackSink = (*channelFeedback)(nil)
)
