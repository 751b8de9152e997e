package device

import (
	"context"

	"attendance.bridge/internal/core/model"
)

// Session is the pull-side device capability: the bridge opens a session,
// reads the device's complete attendance log, and closes it again. Any
// driver implementing it can back the polling sync engine.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// AttendanceLog returns the full current log, not a delta.
	AttendanceLog(ctx context.Context) ([]model.AttendanceRecord, error)
	IsConnected() bool
	String() string
}

// Frame is one decoded device push request.
type Frame struct {
	Method  string
	Path    string
	Query   map[string]string
	Body    string
	HasBody bool
}

// FrameDecoder is the push-side device capability: it turns one raw chunk
// read from a device connection into a Frame.
type FrameDecoder interface {
	DecodeFrame(raw []byte) (Frame, error)
}
