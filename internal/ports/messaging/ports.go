package messaging

import (
	"context"
)

// DeadLetterPublisher is the output port for batches the forwarder gave up on.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, event DeadLetterEvent) error
}

// MessageSender defines the interface for sending raw messages to a messaging system.
type MessageSender interface {
	SendMessage(ctx context.Context, destination string, body []byte) error
}
