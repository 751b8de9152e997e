package biotime

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"attendance.bridge/internal/config"
	"attendance.bridge/internal/ports/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows     []repository.PunchRow
	err      error
	serialIn string
}

func (f *fakeRepo) ListPunches(ctx context.Context, terminalSN string) ([]repository.PunchRow, error) {
	f.serialIn = terminalSN
	return f.rows, f.err
}

func newTestSession(repo *fakeRepo, openErr error) *Session {
	s := NewSession(config.DeviceConfig{Address: "192.168.1.201", Port: 4370, Serial: "CJDE2210"}, config.DBConfig{})
	s.open = func(ctx context.Context) (*sql.DB, error) { return nil, openErr }
	s.newRepo = func(*sql.DB) repository.PunchRepository { return repo }
	return s
}

func TestSession_AttendanceLog(t *testing.T) {
	at := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	repo := &fakeRepo{rows: []repository.PunchRow{
		{EmpCode: "0601", PunchTime: at, PunchState: "0", VerifyType: "1", TerminalSN: "CJDE2210"},
	}}
	s := newTestSession(repo, nil)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())

	recs, err := s.AttendanceLog(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "0601", recs[0].DeviceUserID)
	assert.True(t, recs[0].RecordTime.Equal(at))
	assert.Equal(t, "0", recs[0].AttendanceType)
	assert.Equal(t, "1", recs[0].VerificationMethod)
	assert.Equal(t, "192.168.1.201", recs[0].DeviceIdentifier)
	assert.Equal(t, "CJDE2210", recs[0].SerialNumber)
	assert.Equal(t, "CJDE2210", repo.serialIn)

	require.NoError(t, s.Disconnect(ctx))
	assert.False(t, s.IsConnected())
}

func TestSession_ConnectFailure(t *testing.T) {
	s := newTestSession(&fakeRepo{}, errors.New("connection refused"))

	err := s.Connect(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.False(t, s.IsConnected())
}

func TestSession_PullWithoutConnect(t *testing.T) {
	s := newTestSession(&fakeRepo{}, nil)

	_, err := s.AttendanceLog(context.Background())
	assert.Error(t, err)
}

func TestSession_PullError(t *testing.T) {
	s := newTestSession(&fakeRepo{err: errors.New("relation does not exist")}, nil)
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.AttendanceLog(context.Background())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestSession_String(t *testing.T) {
	s := newTestSession(&fakeRepo{}, nil)
	assert.Equal(t, "biotime(192.168.1.201:4370)", s.String())
}
