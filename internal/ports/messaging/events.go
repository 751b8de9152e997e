package messaging

import (
	"time"

	"attendance.bridge/internal/core/model"
)

// DeadLetterEvent is the JSON payload parked on the dead-letter queue when a
// push batch could not be delivered. Records are already mapped, so a replay
// posts them unchanged.
type DeadLetterEvent struct {
	Source       string      `json:"source"`
	SerialNumber string      `json:"serialNumber,omitempty"`
	Peer         string      `json:"peer,omitempty"`
	Records      model.Batch `json:"records"`
	Reason       string      `json:"reason,omitempty"`
	FailedAt     time.Time   `json:"failedAt"`
}

const SourcePush = "push"
