package ports

// FeedbackSink receives short text payloads produced by trigger callbacks in
// presentation mode. Display must be safe to call from the trigger's
// goroutine; slow sinks are cut off by the trigger, not the other way around.
type FeedbackSink interface {
	Display(text string) error
	Name() string
}
