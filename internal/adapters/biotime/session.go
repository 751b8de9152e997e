// Package biotime implements the device session over a ZKTeco BioTime
// database. BioTime collects punches from its terminals over ADMS and stores
// them in iclock_transaction, so reading that table is a full log pull.
package biotime

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"attendance.bridge/internal/config"
	"attendance.bridge/internal/core/model"
	"attendance.bridge/internal/ports/repository"
	"attendance.bridge/pkg/database"
	"github.com/rs/zerolog/log"
)

// Session is a device.Session backed by the BioTime database.
type Session struct {
	device config.DeviceConfig

	open    func(ctx context.Context) (*sql.DB, error)
	newRepo func(db *sql.DB) repository.PunchRepository

	mu   sync.Mutex
	db   *sql.DB
	repo repository.PunchRepository
}

// NewSession creates a session that connects lazily on Connect.
func NewSession(device config.DeviceConfig, db config.DBConfig) *Session {
	return &Session{
		device: device,
		open: func(ctx context.Context) (*sql.DB, error) {
			return database.NewInstrumentedConnection(ctx, db, device.Timeout)
		},
		newRepo: repository.NewTransactionRepository,
	}
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		return nil
	}
	db, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("connecting to BioTime at %s: %w", s.device.Address, err)
	}
	s.db = db
	s.repo = s.newRepo(db)
	log.Ctx(ctx).Debug().Str("device", s.device.Address).Msg("Connected to BioTime database")
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repo = nil
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	log.Ctx(ctx).Debug().Str("device", s.device.Address).Msg("Disconnected from BioTime database")
	return err
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo != nil
}

// AttendanceLog pulls every punch (optionally only DEVICE_SERIAL's).
func (s *Session) AttendanceLog(ctx context.Context) ([]model.AttendanceRecord, error) {
	s.mu.Lock()
	repo := s.repo
	s.mu.Unlock()
	if repo == nil {
		return nil, fmt.Errorf("not connected to BioTime at %s", s.device.Address)
	}

	rows, err := repo.ListPunches(ctx, s.device.Serial)
	if err != nil {
		return nil, err
	}

	records := make([]model.AttendanceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.toRecord(row))
	}
	return records, nil
}

func (s *Session) toRecord(row repository.PunchRow) model.AttendanceRecord {
	return model.AttendanceRecord{
		DeviceUserID:       row.EmpCode,
		RecordTime:         row.PunchTime,
		AttendanceType:     row.PunchState,
		VerificationMethod: row.VerifyType,
		DeviceIdentifier:   s.device.Address,
		SerialNumber:       row.TerminalSN,
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("biotime(%s:%d)", s.device.Address, s.device.Port)
}
