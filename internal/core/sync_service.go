package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"attendance.bridge/internal/core/ledger"
	"attendance.bridge/internal/core/mapper"
	"attendance.bridge/internal/core/model"
	"attendance.bridge/internal/metrics"
	"attendance.bridge/internal/ports/device"
	"attendance.bridge/pkg/logger"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Forwarder delivers one batch; nil means every record was acknowledged.
type Forwarder interface {
	Deliver(ctx context.Context, batch model.Batch) error
}

// Alerter is told when sync keeps failing.
type Alerter interface {
	SendSyncAlert(ctx context.Context, last model.CycleResult, consecutiveFailures int) error
}

type SyncOptions struct {
	Interval  time.Duration
	BatchSize int
	// AlertAfter is the number of consecutive failed cycles that triggers one
	// alert. Zero disables alerting.
	AlertAfter int
}

// SyncStatus is a point-in-time view of the engine for the admin API.
type SyncStatus struct {
	Device          string             `json:"device"`
	Watermark       time.Time          `json:"watermark"`
	IndexSize       int                `json:"indexSize"`
	CycleInProgress bool               `json:"cycleInProgress"`
	Running         bool               `json:"running"`
	LastCycle       *model.CycleResult `json:"lastCycle,omitempty"`
}

// SyncService is the polling sync engine. It pulls a device's full attendance
// log on a timer, filters it through the ledger, and forwards what is new in
// batches. At most one cycle runs at a time.
type SyncService struct {
	session   device.Session
	forwarder Forwarder
	ledger    *ledger.Ledger
	mapper    *mapper.Mapper
	opts      SyncOptions
	alerter   Alerter
	now       func() time.Time

	inFlight atomic.Bool
	// failedCycles is only touched while inFlight is held.
	failedCycles int

	lastMu sync.RWMutex
	last   *model.CycleResult

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSyncService wires the engine. alerter may be nil.
func NewSyncService(session device.Session, fwd Forwarder, l *ledger.Ledger, m *mapper.Mapper, opts SyncOptions, alerter Alerter) *SyncService {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &SyncService{
		session:   session,
		forwarder: fwd,
		ledger:    l,
		mapper:    m,
		opts:      opts,
		alerter:   alerter,
		now:       time.Now,
	}
}

// Start runs one cycle immediately and then one per interval until Stop is
// called or ctx is cancelled.
func (s *SyncService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.opts.Interval <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("sync interval must be positive, got %s", s.opts.Interval)
	}
	s.running = true
	s.stopCh = make(chan struct{})
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	log.Info().Str("device", s.session.String()).Dur("interval", s.opts.Interval).Msg("Starting polling sync engine")

	s.wg.Add(1)
	go s.loop(loopCtx, s.stopCh)
	return nil
}

// Stop halts the timer, cuts off the timer's in-flight cycle at its next
// suspension point, waits for it, and makes sure the device session is closed
// unless an on-demand cycle still holds it.
func (s *SyncService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	// An on-demand cycle outlives the loop and releases the session itself.
	var err error
	if !s.inFlight.Load() && s.session.IsConnected() {
		err = s.session.Disconnect(context.Background())
	}
	log.Info().Msg("Polling sync engine stopped")
	return err
}

func (s *SyncService) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	s.RunCycle(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// TriggerCycle runs one cycle on demand through the same non-reentrant guard
// as the timer.
func (s *SyncService) TriggerCycle(ctx context.Context) (model.CycleResult, error) {
	result := s.RunCycle(ctx)
	if result.Status == model.CycleSkipped {
		return result, ErrCycleInProgress
	}
	return result, nil
}

// RunCycle performs one sync cycle. Failures are logged and reported in the
// result; nothing is returned as an error because the timer simply fires again.
func (s *SyncService) RunCycle(ctx context.Context) (result model.CycleResult) {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Ctx(ctx).Warn().Msg("Sync cycle still running, skipping this tick")
		metrics.SyncCycles.WithLabelValues(string(model.CycleSkipped)).Inc()
		return model.CycleResult{Status: model.CycleSkipped, StartedAt: s.now(), Error: ErrCycleInProgress.Error()}
	}
	defer s.inFlight.Store(false)

	start := s.now()
	result = model.CycleResult{ID: logger.NewCycleID(), StartedAt: start}

	ctx = logger.WithCycleID(ctx, result.ID)
	ctx, span := otel.Tracer("sync-engine").Start(ctx, "sync_cycle")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Interface("panic", r).Msg("Sync cycle panicked")
			result.Status = model.CycleAborted
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = s.now().Sub(start).String()
		span.SetAttributes(attribute.String("sync.status", string(result.Status)), attribute.Int("sync.new", result.New))
		if result.Failed() {
			span.SetStatus(codes.Error, result.Error)
		}
		s.finish(ctx, result, s.now().Sub(start))
	}()

	log.Ctx(ctx).Info().Str("device", s.session.String()).Msg("Starting attendance sync cycle")

	if err := s.session.Connect(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		log.Ctx(ctx).Error().Err(err).Msg("Could not connect to the device, skipping this sync cycle")
		result.Status = model.CycleConnectionError
		result.Error = err.Error()
		result.Err = err
		return result
	}
	defer func() {
		// Release the session even when ctx was cancelled mid-cycle.
		if err := s.session.Disconnect(context.WithoutCancel(ctx)); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Error disconnecting from device")
		}
	}()

	records, err := s.session.AttendanceLog(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPull, err)
		log.Ctx(ctx).Error().Err(err).Msg("Failed to read attendance log")
		result.Status = model.CyclePullError
		result.Error = err.Error()
		result.Err = err
		return result
	}
	result.Pulled = len(records)
	log.Ctx(ctx).Info().Int("records", len(records)).Msg("Retrieved attendance log from device")

	fresh := s.selectNew(records)
	result.New = len(fresh)
	if len(fresh) == 0 {
		log.Ctx(ctx).Info().Msg("No new attendance records to sync")
		result.Status = model.CycleNoop
		return result
	}

	batches := Partition(fresh, s.opts.BatchSize)
	result.Batches = len(batches)
	log.Ctx(ctx).Info().Int("records", len(fresh)).Int("batches", len(batches)).Msg("Found new records to deliver")

	for i, recs := range batches {
		if ctx.Err() != nil {
			result.FailedBatches += len(batches) - i
			result.Status = model.CycleAborted
			result.Error = fmt.Sprintf("cancelled before batch %d: %v", i+1, ctx.Err())
			log.Ctx(ctx).Warn().Int("batch", i+1).Msg("Sync cycle cancelled, remaining batches left for the next cycle")
			break
		}

		if err := s.forwarder.Deliver(ctx, model.Batch(s.mapper.MapAll(recs))); err != nil {
			result.FailedBatches++
			log.Ctx(ctx).Error().Err(err).Int("batch", i+1).Int("records", len(recs)).Msg("Failed to sync batch, records will be retried in the next cycle")
			continue
		}

		// Mark per batch so a later failure never causes this one to be redelivered.
		s.ledger.MarkDelivered(recs)
		result.Delivered += len(recs)
		metrics.SyncRecordsDelivered.WithLabelValues("sync").Add(float64(len(recs)))
		log.Ctx(ctx).Info().Int("batch", i+1).Int("records", len(recs)).Msg("Successfully synced batch")
	}

	switch {
	case result.Status == model.CycleAborted:
	case result.FailedBatches > 0:
		result.Status = model.CyclePartialFailure
		result.Error = fmt.Sprintf("%d of %d batches failed", result.FailedBatches, result.Batches)
	default:
		result.Status = model.CycleSucceeded
		result.WatermarkAdvanced = s.ledger.CommitWatermark(start)
	}
	return result
}

// selectNew keeps records the ledger has not seen, dropping repeats of the
// same identity within one pull.
func (s *SyncService) selectNew(records []model.AttendanceRecord) []model.AttendanceRecord {
	seen := make(map[model.RecordIdentity]struct{})
	var out []model.AttendanceRecord
	for _, r := range records {
		if !s.ledger.IsNew(r) {
			continue
		}
		id := s.ledger.Identity(r)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (s *SyncService) finish(ctx context.Context, result model.CycleResult, elapsed time.Duration) {
	metrics.RecordCycle(string(result.Status), elapsed, result.Pulled)
	metrics.RecordLedger(s.ledger.Watermark(), s.ledger.Len())

	s.lastMu.Lock()
	s.last = &result
	s.lastMu.Unlock()

	log.Ctx(ctx).Info().
		Str("status", string(result.Status)).
		Int("delivered", result.Delivered).
		Int("failed_batches", result.FailedBatches).
		Bool("watermark_advanced", result.WatermarkAdvanced).
		Dur("elapsed", elapsed).
		Msg("Sync cycle finished")

	if !result.Failed() {
		s.failedCycles = 0
		return
	}
	s.failedCycles++
	if s.alerter == nil || s.opts.AlertAfter <= 0 || s.failedCycles != s.opts.AlertAfter {
		return
	}

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.alerter.SendSyncAlert(alertCtx, result, s.failedCycles); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to send sync degradation alert")
	}
}

// Status reports the ledger and the last cycle.
func (s *SyncService) Status() SyncStatus {
	s.lastMu.RLock()
	var last *model.CycleResult
	if s.last != nil {
		cp := *s.last
		last = &cp
	}
	s.lastMu.RUnlock()

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SyncStatus{
		Device:          s.session.String(),
		Watermark:       s.ledger.Watermark(),
		IndexSize:       s.ledger.Len(),
		CycleInProgress: s.inFlight.Load(),
		Running:         running,
		LastCycle:       last,
	}
}

// Partition splits items into consecutive chunks of at most size, keeping order.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
