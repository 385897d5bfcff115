package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := EventsNormalized
	Init()

	require.NotNil(t, first)
	assert.Same(t, first, EventsNormalized)
}

func TestHelpersRecord(t *testing.T) {
	Init()

	before := testutil.ToFloat64(EventsDeduplicated.WithLabelValues("trovo"))
	IncDeduplicated("trovo")
	assert.Equal(t, before+1, testutil.ToFloat64(EventsDeduplicated.WithLabelValues("trovo")))

	beforeRefunds := testutil.ToFloat64(RefundsIssued)
	IncRefund()
	assert.Equal(t, beforeRefunds+1, testutil.ToFloat64(RefundsIssued))

	AddActiveRuns(2)
	AddActiveRuns(-2)
	assert.Equal(t, float64(0), testutil.ToFloat64(ActiveRuns))

	ObserveAction("chat", 10*time.Millisecond)
}
