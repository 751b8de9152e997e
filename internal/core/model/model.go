package model

import (
	"time"
)

// AttendanceRecord is one punch event read from a time clock. RecordTime is the
// device-local clock reading; no timezone normalization is applied.
type AttendanceRecord struct {
	DeviceUserID       string    `json:"deviceUserId"`
	RecordTime         time.Time `json:"recordTime"`
	AttendanceType     string    `json:"attendanceType"`
	VerificationMethod string    `json:"verificationMethod,omitempty"`
	// DeviceIdentifier is the device address (or serial) attached by the
	// bridge at ingestion, never taken from the payload.
	DeviceIdentifier string `json:"deviceIdentifier"`
	SerialNumber     string `json:"serialNumber,omitempty"`

	// RawRecordTime is the timestamp text as the device pushed it. When set
	// it is forwarded verbatim in place of a reformatted RecordTime.
	RawRecordTime string `json:"-"`
}

// RecordIdentity keys the in-memory duplicate index. Device is left empty
// unless identities are scoped per device.
type RecordIdentity struct {
	Device     string
	UserID     string
	RecordTime int64
}

// MappedRecord is an AttendanceRecord projected onto the HR endpoint's field names.
type MappedRecord map[string]any

// Batch is an ordered group of mapped records delivered in one HTTP call.
type Batch []MappedRecord

// CycleStatus summarizes how a sync cycle ended.
type CycleStatus string

const (
	CycleSucceeded       CycleStatus = "SUCCEEDED"
	CycleNoop            CycleStatus = "NOOP"
	CyclePartialFailure  CycleStatus = "PARTIAL_FAILURE"
	CycleConnectionError CycleStatus = "CONNECTION_ERROR"
	CyclePullError       CycleStatus = "PULL_ERROR"
	CycleSkipped         CycleStatus = "SKIPPED"
	CycleAborted         CycleStatus = "ABORTED"
)

// CycleResult is what one polling sync cycle did.
type CycleResult struct {
	ID                string      `json:"id"`
	Status            CycleStatus `json:"status"`
	StartedAt         time.Time   `json:"startedAt"`
	Duration          string      `json:"duration"`
	Pulled            int         `json:"pulled"`
	New               int         `json:"new"`
	Batches           int         `json:"batches"`
	FailedBatches     int         `json:"failedBatches"`
	Delivered         int         `json:"delivered"`
	WatermarkAdvanced bool        `json:"watermarkAdvanced"`
	Error             string      `json:"error,omitempty"`

	// Err keeps the wrapped cause of connection and pull failures.
	Err error `json:"-"`
}

// Failed reports whether the cycle should count towards degradation alerts.
func (r CycleResult) Failed() bool {
	switch r.Status {
	case CyclePartialFailure, CycleConnectionError, CyclePullError, CycleAborted:
		return true
	}
	return false
}
