package core

import "errors"

var (
	// ErrConnection means the device session could not be acquired.
	ErrConnection = errors.New("device connection failed")
	// ErrPull means the device answered but the attendance log could not be read.
	ErrPull = errors.New("attendance log pull failed")
	// ErrDelivery means a batch could not be delivered within the attempt cap.
	ErrDelivery = errors.New("delivery to HR endpoint failed")
	// ErrParse means a push payload could not be decoded.
	ErrParse = errors.New("malformed push payload")
	// ErrCycleInProgress is returned when a sync cycle is requested while one is running.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	// ErrNoDevice is returned when a cycle is requested but no device session is configured.
	ErrNoDevice = errors.New("no device session configured")
)
