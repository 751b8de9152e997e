package core

import (
	"context"
	"fmt"
	"strings"

	"attendance.bridge/internal/core/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SESAPI is the slice of the SES client the alerter uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESAlertService struct {
	client     SESAPI
	sender     string
	recipients []string
	device     string
}

// NewSESAlertService sends alerts from sender to a comma-separated list of
// recipients. device only labels the message.
func NewSESAlertService(client SESAPI, sender, recipients, device string) *SESAlertService {
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &SESAlertService{client: client, sender: sender, recipients: to, device: device}
}

func (s *SESAlertService) SendSyncAlert(ctx context.Context, last model.CycleResult, consecutiveFailures int) error {
	tracer := otel.Tracer("ses-alert-service")
	ctx, span := tracer.Start(ctx, "send_sync_alert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("sync.status", string(last.Status)),
		attribute.Int("sync.consecutive_failures", consecutiveFailures),
	)

	if len(s.recipients) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}

	body := fmt.Sprintf(
		"Attendance sync from %s has failed %d cycles in a row.\n\n"+
			"Last cycle: %s\nStatus: %s\nStarted: %s\nError: %s\n\n"+
			"Undelivered punches stay on the device and are retried every cycle.",
		s.device, consecutiveFailures, last.ID, last.Status, last.StartedAt.Format("2006-01-02 15:04:05 MST"), last.Error,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("Attendance sync degraded: %s", s.device)),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	_, err := s.client.SendEmail(ctx, input)
	return err
}
