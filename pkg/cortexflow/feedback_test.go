package cortexflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackFeedbackInvokesFunction(t *testing.T) {
	var got string
	sink := NewCallbackFeedback("stim", func(text string) error {
		got = text
		return nil
	})

	require.Equal(t, "stim", sink.Name())
	require.NoError(t, sink.Display("left hand"))
	require.Equal(t, "left hand", got)
}

func TestCallbackFeedbackPropagatesError(t *testing.T) {
	displayErr := errors.New("screen gone")
	sink := NewCallbackFeedback("", func(string) error { return displayErr })

	require.Equal(t, "callback", sink.Name())
	require.ErrorIs(t, sink.Display("x"), displayErr)
}

func TestCallbackFeedbackNilHandler(t *testing.T) {
	sink := NewCallbackFeedback("stim", nil)
	require.Error(t, sink.Display("x"))
}

func TestChannelFeedbackDeliversInOrder(t *testing.T) {
	sink, lines, closeFn := NewChannelFeedback("display", 2)
	defer closeFn()

	require.NoError(t, sink.Display("first"))
	require.NoError(t, sink.Display("second"))

	require.Equal(t, "first", <-lines)
	require.Equal(t, "second", <-lines)
}

func TestChannelFeedbackClose(t *testing.T) {
	sink, lines, closeFn := NewChannelFeedback("display", 1)

	require.NoError(t, sink.Display("last"))
	closeFn()
	closeFn() // idempotent

	require.ErrorIs(t, sink.Display("late"), ErrFeedbackClosed)

	// Buffered text is still readable, then the channel reports closed.
	require.Equal(t, "last", <-lines)
	_, ok := <-lines
	require.False(t, ok)
}

func TestChannelFeedbackDisplayCloseRace(t *testing.T) {
	// Senders racing the close func must either deliver or get
	// ErrFeedbackClosed; a send on a closed channel would panic.
	for i := 0; i < 200; i++ {
		sink, lines, closeFn := NewChannelFeedback("display", 1)

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for range lines {
			}
		}()

		unexpected := make(chan error, 4)
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := sink.Display("tick"); err != nil && !errors.Is(err, ErrFeedbackClosed) {
					unexpected <- err
				}
			}()
		}

		closeFn()
		wg.Wait()
		<-drained
		close(unexpected)
		for err := range unexpected {
			t.Fatalf("display: %v", err)
		}
	}
}
