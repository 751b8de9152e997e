package ledger

import (
	"testing"
	"time"

	"attendance.bridge/internal/core/model"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func punch(user string, offset time.Duration) model.AttendanceRecord {
	return model.AttendanceRecord{
		DeviceUserID:     user,
		RecordTime:       base.Add(offset),
		AttendanceType:   "0",
		DeviceIdentifier: "10.0.0.7",
	}
}

func TestNew_StartsAtEpoch(t *testing.T) {
	l := New(ScopeUserTime, 0)
	assert.True(t, l.Watermark().Equal(time.Unix(0, 0)))
	assert.Equal(t, 0, l.Len())
}

func TestIsNew(t *testing.T) {
	l := New(ScopeUserTime, 0)
	r := punch("1", 0)

	assert.True(t, l.IsNew(r))

	l.MarkDelivered([]model.AttendanceRecord{r})
	assert.False(t, l.IsNew(r), "delivered identity must be suppressed")
	assert.True(t, l.IsNew(punch("1", time.Minute)))
	assert.True(t, l.IsNew(punch("2", 0)))
}

func TestIsNew_WatermarkFilter(t *testing.T) {
	l := New(ScopeUserTime, time.Hour)
	l.CommitWatermark(base)

	assert.False(t, l.IsNew(punch("1", 0)), "record at the watermark is not new")
	assert.False(t, l.IsNew(punch("1", -time.Second)))
	assert.True(t, l.IsNew(punch("1", time.Second)))
}

func TestIsNew_IndexWinsOverNewTimestamp(t *testing.T) {
	l := New(ScopeUserTime, time.Hour)
	future := punch("7", 48*time.Hour)
	l.MarkDelivered([]model.AttendanceRecord{future})
	l.CommitWatermark(base)

	assert.False(t, l.IsNew(future))
}

func TestCommitWatermark_Monotonic(t *testing.T) {
	l := New(ScopeUserTime, 0)

	assert.True(t, l.CommitWatermark(base))
	assert.False(t, l.CommitWatermark(base.Add(-time.Minute)))
	assert.False(t, l.CommitWatermark(base))
	assert.True(t, l.Watermark().Equal(base))

	assert.True(t, l.CommitWatermark(base.Add(time.Minute)))
	assert.True(t, l.Watermark().Equal(base.Add(time.Minute)))
}

func TestCommitWatermark_EvictsUnreachableIdentities(t *testing.T) {
	l := New(ScopeUserTime, 0)
	old := punch("1", -time.Hour)
	fresh := punch("2", time.Hour)
	l.MarkDelivered([]model.AttendanceRecord{old, fresh})
	assert.Equal(t, 2, l.Len())

	l.CommitWatermark(base)

	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Contains(old))
	assert.True(t, l.Contains(fresh))
	assert.False(t, l.IsNew(old), "evicted identity is still filtered by the watermark")
}

func TestCommitWatermark_RetentionKeepsRecentIdentities(t *testing.T) {
	l := New(ScopeUserTime, 2*time.Hour)
	r := punch("1", -time.Hour)
	l.MarkDelivered([]model.AttendanceRecord{r})

	l.CommitWatermark(base)
	assert.True(t, l.Contains(r))

	l.CommitWatermark(base.Add(90 * time.Minute))
	assert.False(t, l.Contains(r))
}

func TestIdentity_Scope(t *testing.T) {
	a := punch("1", 0)
	b := punch("1", 0)
	b.DeviceIdentifier = "10.0.0.8"

	shared := New(ScopeUserTime, 0)
	assert.Equal(t, shared.Identity(a), shared.Identity(b))

	scoped := New(ScopeDeviceUserTime, 0)
	assert.NotEqual(t, scoped.Identity(a), scoped.Identity(b))

	scoped.MarkDelivered([]model.AttendanceRecord{a})
	assert.True(t, scoped.IsNew(b))
}

func TestIdentity_PrefersSerialNumberWhenScoped(t *testing.T) {
	l := New(ScopeDeviceUserTime, 0)
	a := punch("1", 0)
	a.SerialNumber = "CJDE2210"
	b := a
	b.DeviceIdentifier = "172.16.0.4"

	assert.Equal(t, l.Identity(a), l.Identity(b))
}
