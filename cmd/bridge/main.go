// Entry point for the attendance bridge: push listener, polling sync engine
// and admin API in one supervised process.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.bridge/internal/adapters/biotime"
	sqsadapter "attendance.bridge/internal/adapters/SQS"
	"attendance.bridge/internal/api"
	"attendance.bridge/internal/api/handler"
	"attendance.bridge/internal/config"
	"attendance.bridge/internal/core"
	"attendance.bridge/internal/core/ledger"
	"attendance.bridge/internal/core/mapper"
	"attendance.bridge/internal/ports/messaging"
	"attendance.bridge/internal/push"
	"attendance.bridge/internal/supervisor"
	"attendance.bridge/internal/worker/hrapi"
	"attendance.bridge/pkg/aws"
	"attendance.bridge/pkg/logger"
	"attendance.bridge/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// Configure structured logging
	logger.Setup(cfg.LogLevel, cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTelEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	schema, err := mapper.ParseFieldMapping(cfg.Sync.FieldMapping)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid field mapping")
	}
	fieldMapper, err := mapper.New(schema, cfg.Sync.RecordTimeLayout)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid field mapping")
	}

	// AWS clients are only needed for the dead-letter queue and alert mail.
	var (
		deadLetters messaging.DeadLetterPublisher
		alerter     core.Alerter
	)
	if cfg.DeadLetterQueueURL != "" || cfg.AlertsEnabled() {
		awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load SDK config")
		}
		if cfg.DeadLetterQueueURL != "" {
			deadLetters = sqsadapter.NewDeadLetterProducer(sqs.NewFromConfig(awsCfg), cfg.DeadLetterQueueURL)
			log.Info().Str("queue", cfg.DeadLetterQueueURL).Msg("Undelivered push batches go to the dead-letter queue")
		}
		if cfg.AlertsEnabled() {
			alerter = core.NewSESAlertService(ses.NewFromConfig(awsCfg), cfg.AlertEmailFrom, cfg.AlertEmailTo, cfg.Device.Address)
		}
	}

	tree := supervisor.NewTree(cfg.ServiceName, supervisor.DefaultTreeConfig())

	// Polling sync engine
	var syncService *core.SyncService
	switch cfg.Device.Driver {
	case config.DriverBioTime:
		session := biotime.NewSession(cfg.Device, cfg.DB)
		syncService = core.NewSyncService(
			session,
			hrapi.NewClient(cfg.HR, cfg.HR.AttendancePath),
			ledger.New(ledger.Scope(cfg.Sync.IdentityScope), cfg.Sync.IndexRetention),
			fieldMapper,
			core.SyncOptions{
				Interval:   cfg.Sync.Interval,
				BatchSize:  cfg.Sync.BatchSize,
				AlertAfter: cfg.AlertAfterFailedCycles,
			},
			alerter,
		)
		if cfg.AutoStart {
			tree.AddIngestService(supervisor.NewStartStopService("sync-engine", syncService))
		} else {
			log.Info().Msg("AUTO_START is off; sync cycles run only when triggered through the admin API")
		}
	default:
		log.Info().Msg("No pull device configured, polling sync engine disabled")
	}

	// Push listener
	if cfg.Push.Enabled {
		listener := push.NewListener(
			push.Options{
				Addr:        net.JoinHostPort("", cfg.Push.Port),
				IdleTimeout: cfg.Push.IdleTimeout,
				TimeLayout:  cfg.Sync.RecordTimeLayout,
			},
			push.ADMSDecoder{},
			hrapi.NewClient(cfg.HR, cfg.HR.PushPath),
			fieldMapper,
			deadLetters,
		)
		tree.AddIngestService(supervisor.NewFuncService("push-listener", listener.Serve))
	}

	// Admin API. A nil *SyncService must not reach the handler as a non-nil interface.
	var syncController handler.SyncController
	if syncService != nil {
		syncController = syncService
	}
	srv := &http.Server{
		Addr:              ":" + cfg.AdminPort,
		Handler:           api.NewHandler(api.NewRouter(syncController)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, 5*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("admin_port", cfg.AdminPort).
		Bool("push", cfg.Push.Enabled).
		Str("device_driver", cfg.Device.Driver).
		Msg("Attendance bridge starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		log.Warn().Int("count", len(unstopped)).Msg("Some services did not stop in time")
	}

	log.Info().Msg("Attendance bridge exiting")
}
