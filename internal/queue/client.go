package queue

import "context"

// Client enqueues optimization messages. SQS in deployed environments; tests
// substitute in-process fakes.
type Client interface {
	Send(ctx context.Context, msg Message) error
}
