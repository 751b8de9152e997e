package mapper

import (
	"testing"
	"time"

	"attendance.bridge/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layout = "2006-01-02 15:04:05"

func TestParseFieldMapping(t *testing.T) {
	schema, err := ParseFieldMapping(" employee_code=deviceUserId, scan_time=recordTime ,ip=deviceId,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"employee_code": FieldDeviceUserID,
		"scan_time":     FieldRecordTime,
		"ip":            FieldDeviceID,
	}, schema)
}

func TestParseFieldMapping_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing separator", "employee_code"},
		{"missing device field", "employee_code="},
		{"unknown device field", "employee_code=badgeNumber"},
		{"duplicate hr field", "a=deviceUserId,a=recordTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFieldMapping(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestMapper_Map(t *testing.T) {
	m, err := New(map[string]string{
		"employee_code": FieldDeviceUserID,
		"scan_time":     FieldRecordTime,
		"status":        FieldAttendanceType,
		"verify":        FieldVerificationMethod,
		"SN":            FieldSerialNumber,
		"ip":            FieldDeviceID,
	}, layout)
	require.NoError(t, err)

	rec := model.AttendanceRecord{
		DeviceUserID:     "0601",
		RecordTime:       time.Date(2024, 1, 15, 9, 30, 0, 0, time.Local),
		AttendanceType:   "1",
		DeviceIdentifier: "10.0.0.7",
	}

	got := m.Map(rec)
	assert.Equal(t, model.MappedRecord{
		"employee_code": "0601",
		"scan_time":     "2024-01-15 09:30:00",
		"status":        "1",
		"ip":            "10.0.0.7",
	}, got, "empty verification and serial must be omitted")
}

func TestMapper_MapPrefersPushedTimestampText(t *testing.T) {
	m, err := New(map[string]string{"scan_time": FieldRecordTime}, layout)
	require.NoError(t, err)

	pushed := model.AttendanceRecord{
		RecordTime:    time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
		RawRecordTime: "2024-01-15T09:30:00",
	}
	assert.Equal(t, "2024-01-15T09:30:00", m.Map(pushed)["scan_time"])

	unreadable := model.AttendanceRecord{RawRecordTime: "15/01/2024 09:30"}
	assert.Equal(t, "15/01/2024 09:30", m.Map(unreadable)["scan_time"])

	polled := model.AttendanceRecord{RecordTime: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)}
	assert.Equal(t, "2024-01-15 09:30:00", m.Map(polled)["scan_time"])
}

func TestMapper_MapAllKeepsOrder(t *testing.T) {
	m, err := New(map[string]string{"id": FieldDeviceUserID}, layout)
	require.NoError(t, err)

	recs := []model.AttendanceRecord{{DeviceUserID: "3"}, {DeviceUserID: "1"}, {DeviceUserID: "2"}}
	got := m.MapAll(recs)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0]["id"])
	assert.Equal(t, "1", got[1]["id"])
	assert.Equal(t, "2", got[2]["id"])
}

func TestNew_RejectsUnknownField(t *testing.T) {
	_, err := New(map[string]string{"x": "cardNo"}, layout)
	assert.Error(t, err)
}
