package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCycle(t *testing.T) {
	before := testutil.ToFloat64(SyncCycles.WithLabelValues("SUCCEEDED"))
	pulledBefore := testutil.ToFloat64(SyncRecordsPulled)

	RecordCycle("SUCCEEDED", 250*time.Millisecond, 12)

	assert.Equal(t, before+1, testutil.ToFloat64(SyncCycles.WithLabelValues("SUCCEEDED")))
	assert.Equal(t, pulledBefore+12, testutil.ToFloat64(SyncRecordsPulled))
}

func TestRecordLedger(t *testing.T) {
	wm := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	RecordLedger(wm, 42)

	assert.Equal(t, float64(wm.Unix()), testutil.ToFloat64(SyncWatermark))
	assert.Equal(t, float64(42), testutil.ToFloat64(SyncIndexSize))
}
