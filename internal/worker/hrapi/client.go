package hrapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"attendance.bridge/internal/config"
	"attendance.bridge/internal/core"
	"attendance.bridge/internal/core/model"
	"attendance.bridge/internal/metrics"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client posts batches as JSON arrays with a fixed-delay retry policy. Every
// attempt goes through a circuit breaker so a dead HR API is not hammered by
// every device at once. It keeps no delivery state of its own.
type Client struct {
	client      *http.Client
	url         string
	path        string
	apiKey      string
	authHeader  string
	authScheme  string
	maxAttempts int
	retryDelay  time.Duration
	cb          *gobreaker.CircuitBreaker
}

var _ core.Forwarder = (*Client)(nil)

// NewClient builds a client for cfg.BaseURL + path.
func NewClient(cfg config.HRConfig, path string) *Client {
	name := "hr-api" + path
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if failure rate is at least 50% after at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("HR API circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	maxAttempts := cfg.RetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	authHeader := cfg.AuthHeader
	if authHeader == "" {
		authHeader = "Authorization"
	}

	return &Client{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		url:         strings.TrimRight(cfg.BaseURL, "/") + path,
		path:        path,
		apiKey:      cfg.APIKey,
		authHeader:  authHeader,
		authScheme:  cfg.AuthScheme,
		maxAttempts: maxAttempts,
		retryDelay:  cfg.RetryDelay,
		cb:          gobreaker.NewCircuitBreaker(settings),
	}
}

// Deliver posts batch, retrying up to the configured attempt cap with a fixed
// delay between attempts. Exhausted or cancelled deliveries wrap core.ErrDelivery.
func (c *Client) Deliver(ctx context.Context, batch model.Batch) error {
	tracer := otel.Tracer("hr-api")
	ctx, span := tracer.Start(ctx, "deliver_batch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("hr.endpoint", c.path),
		attribute.Int("hr.batch_size", len(batch)),
	)

	payload, err := json.Marshal(batch)
	if err != nil {
		span.SetStatus(codes.Error, "marshal")
		return fmt.Errorf("%w: failed to marshal batch: %w", core.ErrDelivery, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		log.Ctx(ctx).Debug().Int("attempt", attempt).Int("records", len(batch)).Str("endpoint", c.path).Msg("Sending batch to HR endpoint")

		_, lastErr = c.cb.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, payload)
		})
		if lastErr == nil {
			metrics.ForwarderAttempts.WithLabelValues(c.path, "success").Inc()
			metrics.ForwarderBatches.WithLabelValues(c.path, "success").Inc()
			span.SetAttributes(attribute.Int("hr.attempts", attempt))
			return nil
		}

		if errors.Is(lastErr, gobreaker.ErrOpenState) || errors.Is(lastErr, gobreaker.ErrTooManyRequests) {
			metrics.ForwarderAttempts.WithLabelValues(c.path, "rejected").Inc()
		} else {
			metrics.ForwarderAttempts.WithLabelValues(c.path, "failure").Inc()
		}
		log.Ctx(ctx).Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", c.maxAttempts).Str("endpoint", c.path).Msg("HR delivery attempt failed")

		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			metrics.ForwarderBatches.WithLabelValues(c.path, "cancelled").Inc()
			span.SetStatus(codes.Error, "cancelled")
			return fmt.Errorf("%w: cancelled after %d attempts: %w", core.ErrDelivery, attempt, ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}

	metrics.ForwarderBatches.WithLabelValues(c.path, "failure").Inc()
	span.SetStatus(codes.Error, "attempts exhausted")
	log.Ctx(ctx).Error().Err(lastErr).Int("records", len(batch)).Str("endpoint", c.path).Msg("Max retry attempts reached, batch not delivered")
	return fmt.Errorf("%w after %d attempts: %w", core.ErrDelivery, c.maxAttempts, lastErr)
}

// post makes a single attempt with a freshly built request.
func (c *Client) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.authHeader, c.credential())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call HR API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HR API returned non-successful status code %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) credential() string {
	if c.authScheme == "" {
		return c.apiKey
	}
	return c.authScheme + " " + c.apiKey
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
