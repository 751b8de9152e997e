package messaging

import (
	"context"
	"fmt"

	"attendance.bridge/internal/metrics"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Producer struct {
	sender        MessageSender
	deadLetterURL string
}

func NewProducer(sender MessageSender, deadLetterURL string) *Producer {
	return &Producer{
		sender:        sender,
		deadLetterURL: deadLetterURL,
	}
}

func (p *Producer) PublishDeadLetter(ctx context.Context, event DeadLetterEvent) error {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() && event.SerialNumber != "" {
		span.SetAttributes(attribute.String("app.serialNumber", event.SerialNumber))
	}

	if err := p.publish(ctx, p.deadLetterURL, event); err != nil {
		metrics.DeadLetters.WithLabelValues("publish_failed").Inc()
		return err
	}
	metrics.DeadLetters.WithLabelValues("published").Inc()
	return nil
}

func (p *Producer) publish(ctx context.Context, destination string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	if err := p.sender.SendMessage(ctx, destination, b); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
