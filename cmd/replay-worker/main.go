// Replays push batches parked on the dead-letter queue once the HR API is back.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"attendance.bridge/internal/config"
	"attendance.bridge/internal/worker"
	"attendance.bridge/internal/worker/hrapi"
	"attendance.bridge/internal/worker/replay"
	"attendance.bridge/pkg/aws"
	"attendance.bridge/pkg/logger"
	"attendance.bridge/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.IsLocalDev)

	if cfg.DeadLetterQueueURL == "" {
		log.Fatal().Msg("DEAD_LETTER_QUEUE_URL is required for the replay worker")
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.ServiceName+"-replay", cfg.OTelEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// AWS SDK Config
	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize Dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	processor := replay.NewProcessor(hrapi.NewClient(cfg.HR, cfg.HR.PushPath))

	// Start Worker
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := worker.NewWorker(sqsClient, cfg.DeadLetterQueueURL, processor)
	app.Start(ctx)

	log.Info().Msg("Replay worker exited gracefully")
}
