package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGuard/internal/domain/repository"
)

var _ repository.Metrics = (*Recorder)(nil)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordAnalysis("upload", 100, 7, 0.25)
	r.RecordAnalysis("upload", 50, 0, 0.1)
	r.RecordModelFailure("svm", "fit")
	r.RecordTrade("binance", "btcusdt", 64000)
	r.RecordTrade("binance", "btcusdt", 64100)
	r.RecordError("store_save")
	r.RecordMessageSent("kafka", "finguard.alerts")
	r.RecordLatency("ingest_e2e", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.analysesTotal.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.modelFailures.WithLabelValues("svm", "fit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.tradesReceived.WithLabelValues("binance")))
	assert.Equal(t, 64100.0, testutil.ToFloat64(r.lastPrice.WithLabelValues("btcusdt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("store_save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.messagesSent.WithLabelValues("kafka", "finguard.alerts")))

	n, err := testutil.GatherAndCount(reg, "finguard_anomalies_detected", "finguard_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecorderRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
