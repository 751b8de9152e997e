package worker

import (
	"context"
	"sync"
	"time"

	"attendance.bridge/pkg/logger"
	"attendance.bridge/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Processor handles one message. shouldRetry with a non-nil error keeps the
// message on the queue for retryDelay seconds; any other error drops it.
type Processor interface {
	Process(ctx context.Context, msg types.Message) (shouldRetry bool, retryDelay int32, err error)
}

// Worker polls a queue and passes messages off to a Processor.
type Worker struct {
	client    SQSClient
	queueURL  string
	processor Processor
	// Concurrency controls how many messages can be processed at the same time.
	Concurrency int
	// WaitTimeSeconds is the SQS long-poll duration.
	WaitTimeSeconds int32
	// ErrorBackoff is how long the poller pauses after a failed receive.
	ErrorBackoff time.Duration
}

// NewWorker creates a new SQS worker, ready to be started.
func NewWorker(client SQSClient, url string, proc Processor) *Worker {
	return &Worker{
		client:          client,
		queueURL:        url,
		processor:       proc,
		Concurrency:     4,
		WaitTimeSeconds: 20,
		ErrorBackoff:    5 * time.Second,
	}
}

// Start runs the poll loop until ctx is cancelled and returns once every
// in-flight message has been handled.
func (w *Worker) Start(ctx context.Context) {
	log.Info().Int("concurrency", w.Concurrency).Str("queue", w.queueURL).Msg("SQS worker started, polling for messages")

	messagesCh := make(chan types.Message, w.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processMessages(ctx, messagesCh)
		}()
	}

	w.pollMessages(ctx, messagesCh)
	wg.Wait()
	log.Info().Msg("SQS worker stopped")
}

// pollMessages fetches messages and feeds them to the processors.
func (w *Worker) pollMessages(ctx context.Context, messagesCh chan<- types.Message) {
	defer close(messagesCh) // Close channel to signal processors to stop

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller shutting down...")
			return
		default:
		}

		output, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    &w.queueURL,
			MaxNumberOfMessages:         int32(min(w.Concurrency, 10)),
			WaitTimeSeconds:             w.WaitTimeSeconds,
			MessageAttributeNames:       []string{"All"}, // Request attributes to get trace context
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Error receiving messages")
			select {
			case <-ctx.Done():
			case <-time.After(w.ErrorBackoff):
			}
			continue
		}
		if len(output.Messages) > 0 {
			log.Info().Int("count", len(output.Messages)).Msg("Received messages")
		}
		for _, msg := range output.Messages {
			messagesCh <- msg
		}
	}
}

func (w *Worker) processMessages(ctx context.Context, messagesCh <-chan types.Message) {
	for msg := range messagesCh {
		w.handleSingleMessage(ctx, msg)
	}
}

// handleSingleMessage runs the processor and then either deletes the message
// or changes its visibility so SQS redelivers it later.
func (w *Worker) handleSingleMessage(ctx context.Context, msg types.Message) {
	ctx, span := telemetry.StartSpanFromSQSMessage(ctx, msg)
	defer span.End()

	ctx = logger.EnrichContextWithLogger(ctx)
	if sn := telemetry.GetSerialNumberFromContext(ctx); sn != "" {
		ctx = logger.WithFields(ctx, map[string]string{"sn": sn})
	}

	shouldRetry, retryDelay, err := w.processor.Process(ctx, msg)

	// Queue bookkeeping must finish even when shutdown cancelled ctx.
	opCtx := context.WithoutCancel(ctx)

	if err != nil && shouldRetry {
		log.Ctx(ctx).Warn().Err(err).Int32("retry_delay", retryDelay).Msg("Processing failed, will retry")

		if _, cerr := w.client.ChangeMessageVisibility(opCtx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &w.queueURL,
			ReceiptHandle:     msg.ReceiptHandle,
			VisibilityTimeout: retryDelay,
		}); cerr != nil {
			log.Ctx(ctx).Error().Err(cerr).Msg("Failed to change message visibility")
		}
		return
	}

	if err != nil {
		// Unrecoverable (bad message format); left for the queue's redrive policy.
		log.Ctx(ctx).Error().Err(err).Msg("Unrecoverable error processing message, will not retry")
		return
	}

	if _, derr := w.client.DeleteMessage(opCtx, &sqs.DeleteMessageInput{
		QueueUrl:      &w.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); derr != nil {
		log.Ctx(ctx).Error().Err(derr).Msg("Failed to delete processed message")
	}
}
