package feed

import "context"

// Source hands out change-feed events. Read returns at most max events and
// may return none when nothing arrived within the source's wait time.
// Events are redelivered until acknowledged.
type Source interface {
	Read(ctx context.Context, max int) ([]Event, error)
	Ack(ctx context.Context, events ...Event) error
	// DeadLetter parks an event the consumer gave up on.
	DeadLetter(ctx context.Context, ev Event, reason string, attempts int) error
}

// Publisher appends events to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) (string, error)
}
