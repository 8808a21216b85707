package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Allocation("BARCODE", OutcomeAllocated)
	r.Allocation("BARCODE", OutcomeAllocated)
	r.Scan("QR", OutcomeDuplicate)
	r.Transition("DEPLOY", OutcomeRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Allocations.WithLabelValues("BARCODE", OutcomeAllocated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Scans.WithLabelValues("QR", OutcomeDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Transitions.WithLabelValues("DEPLOY", OutcomeRejected)))

	n, err := testutil.GatherAndCount(reg, "barscan_allocations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Allocation("BARCODE", OutcomeAllocated)
		r.Scan("BARCODE", OutcomeRecorded)
		r.Transition("RETURN", OutcomeApplied)
	})
}
