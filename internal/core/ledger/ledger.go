// Package ledger owns the sync watermark and the index of record identities
// already confirmed delivered. Both live in memory for the process lifetime.
package ledger

import (
	"sync"
	"time"

	"attendance.bridge/internal/core/model"
)

// Scope decides which fields make up a RecordIdentity.
type Scope string

const (
	// ScopeUserTime keys on (deviceUserId, recordTime).
	ScopeUserTime Scope = "user_time"
	// ScopeDeviceUserTime also includes the device identifier, so devices
	// sharing user-id numbering never suppress each other.
	ScopeDeviceUserTime Scope = "device_user_time"
)

// Ledger is written only by the polling sync engine. The mutex lets the admin
// API read status while a cycle runs.
type Ledger struct {
	mu        sync.RWMutex
	watermark time.Time
	// index maps identity -> record time, which drives eviction.
	index     map[model.RecordIdentity]time.Time
	scope     Scope
	retention time.Duration
}

// New returns a ledger whose watermark starts at the Unix epoch. Identities are
// evicted once their record time is at or before watermark-retention.
func New(scope Scope, retention time.Duration) *Ledger {
	if scope != ScopeDeviceUserTime {
		scope = ScopeUserTime
	}
	if retention < 0 {
		retention = 0
	}
	return &Ledger{
		watermark: time.Unix(0, 0).UTC(),
		index:     make(map[model.RecordIdentity]time.Time),
		scope:     scope,
		retention: retention,
	}
}

// Identity derives the duplicate-suppression key for r.
func (l *Ledger) Identity(r model.AttendanceRecord) model.RecordIdentity {
	id := model.RecordIdentity{
		UserID:     r.DeviceUserID,
		RecordTime: r.RecordTime.UnixNano(),
	}
	if l.scope == ScopeDeviceUserTime {
		id.Device = r.DeviceIdentifier
		if r.SerialNumber != "" {
			id.Device = r.SerialNumber
		}
	}
	return id
}

// IsNew reports whether r is after the watermark and not yet delivered.
func (l *Ledger) IsNew(r model.AttendanceRecord) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !r.RecordTime.After(l.watermark) {
		return false
	}
	_, seen := l.index[l.Identity(r)]
	return !seen
}

// MarkDelivered adds the identities of records to the index.
func (l *Ledger) MarkDelivered(records []model.AttendanceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range records {
		l.index[l.Identity(r)] = r.RecordTime
	}
}

// CommitWatermark moves the watermark forward to t. Earlier values are ignored
// and false is returned.
func (l *Ledger) CommitWatermark(t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !t.After(l.watermark) {
		return false
	}
	l.watermark = t
	l.evictLocked()
	return true
}

// evictLocked drops identities the watermark filter can no longer let through.
func (l *Ledger) evictLocked() {
	cutoff := l.watermark.Add(-l.retention)
	for id, recordTime := range l.index {
		if !recordTime.After(cutoff) {
			delete(l.index, id)
		}
	}
}

// Watermark returns the current lastSyncTime.
func (l *Ledger) Watermark() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.watermark
}

// Len returns the number of identities held in the index.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Contains reports whether r's identity has been marked delivered.
func (l *Ledger) Contains(r model.AttendanceRecord) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[l.Identity(r)]
	return ok
}
