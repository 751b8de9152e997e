package sqsadapter

import (
	"context"
	"fmt"

	"attendance.bridge/internal/ports/messaging"
	"attendance.bridge/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSSender implements messaging.MessageSender for AWS SQS.
type SQSSender struct {
	client SQSClient
}

// SQSClient defines the interface for the AWS SQS client.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func NewSQSSender(client SQSClient) *SQSSender {
	return &SQSSender{client: client}
}

func (s *SQSSender) SendMessage(ctx context.Context, destination string, body []byte) error {
	// Inject trace context into message attributes
	attributes := telemetry.InjectTraceContext(ctx)

	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(destination),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("sqs queue %s: %w", destination, err)
	}
	return nil
}

// NewDeadLetterProducer creates a dead-letter Producer backed by an AWS SQS sender.
func NewDeadLetterProducer(client SQSClient, queueURL string) *messaging.Producer {
	return messaging.NewProducer(NewSQSSender(client), queueURL)
}
