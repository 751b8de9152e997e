package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"attendance.bridge/internal/core"
	"attendance.bridge/internal/metrics"
	"attendance.bridge/internal/ports/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// breakerCooldown matches the HR client's open-state timeout in seconds.
const breakerCooldown int32 = 30

// ReplayProcessor re-delivers push batches parked on the dead-letter queue.
// The forwarder owns the circuit breaker; while it is open every message is
// pushed back with a growing visibility delay.
type ReplayProcessor struct {
	forwarder core.Forwarder
}

func NewProcessor(fwd core.Forwarder) *ReplayProcessor {
	return &ReplayProcessor{forwarder: fwd}
}

func (p *ReplayProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, fmt.Errorf("dead-letter message %s has no body", aws.ToString(msg.MessageId))
	}
	var event messaging.DeadLetterEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to unmarshal dead-letter event")
		return false, 0, err // Do not retry on malformed message
	}

	if len(event.Records) == 0 {
		log.Ctx(ctx).Warn().Msg("Dead-letter event carries no records, dropping")
		return false, 0, nil
	}

	log.Ctx(ctx).Info().
		Str("source", event.Source).
		Str("peer", event.Peer).
		Int("records", len(event.Records)).
		Time("failed_at", event.FailedAt).
		Msg("Replaying undelivered attendance batch")

	if err := p.forwarder.Deliver(ctx, event.Records); err != nil {
		delay := calculateBackoff(receiveCount(msg))
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Ctx(ctx).Warn().Msg("HR API circuit breaker is open, postponing replay")
			delay = max(delay, breakerCooldown)
		}
		metrics.DeadLetters.WithLabelValues("replay_failed").Inc()
		return true, delay, err
	}

	metrics.DeadLetters.WithLabelValues("replayed").Inc()
	metrics.SyncRecordsDelivered.WithLabelValues("replay").Add(float64(len(event.Records)))
	return false, 0, nil
}

// receiveCount reads ApproximateReceiveCount, defaulting to 1.
func receiveCount(msg types.Message) int {
	raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// calculateBackoff determines how long to wait before retrying a failed job.
// It increases the delay exponentially with each retry.
func calculateBackoff(retryCount int) int32 {
	if retryCount > 12 {
		return 3600
	}
	backoff := int32(math.Pow(2, float64(retryCount)) * 10)
	if backoff > 3600 {
		return 3600 // max at 1 hour
	}
	return backoff
}
