package messaging

import (
	"context"
)

// Broker publishes JSON messages to named channels and streams raw payloads
// back to subscribers.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe returns a channel of payloads that is closed when ctx ends
	// or the broker is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
