// Package lifecycle provides the cancellation token shared by ingestion tasks
// and trigger loops. A token can be cancelled once and never un-cancelled;
// cancelling twice is harmless.
package lifecycle

import (
	"context"
	"sync"
)

type Token struct {
	once sync.Once
	done chan struct{}
}

func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel raises the token. Idempotent.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

func (t *Token) IsCancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Bind derives a context that is cancelled when either the parent is done or
// the token is raised. Blocking pulls inside loops use this so cancellation
// takes effect within one pull cycle.
func (t *Token) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
