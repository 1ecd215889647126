package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	analysesTotal  *prometheus.CounterVec
	anomalies      *prometheus.HistogramVec
	analysisTime   *prometheus.HistogramVec
	modelFailures  *prometheus.CounterVec
	messagesSent   *prometheus.CounterVec
	tradesReceived *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder whose collectors are registered on reg. A nil reg
// uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		analysesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_analyses_total",
				Help: "Total number of completed analyses",
			},
			[]string{"source"},
		),
		anomalies: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finguard_anomalies_detected",
				Help:    "Anomalies flagged per analysis",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"source"},
		),
		analysisTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finguard_analysis_duration_seconds",
				Help:    "Wall-clock duration of an analysis",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		modelFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_model_failures_total",
				Help: "Per-model failures by slot and stage",
			},
			[]string{"slot", "stage"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_messages_sent_total",
				Help: "Total number of messages sent to a backend",
			},
			[]string{"backend", "topic"},
		),
		tradesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_trades_received_total",
				Help: "Trades accepted into the live window",
			},
			[]string{"source"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finguard_last_price",
				Help: "Last recorded trade price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finguard_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordAnalysis records one completed analysis.
func (r *Recorder) RecordAnalysis(source string, total, anomalies int, seconds float64) {
	r.analysesTotal.WithLabelValues(source).Inc()
	r.anomalies.WithLabelValues(source).Observe(float64(anomalies))
	r.analysisTime.WithLabelValues(source).Observe(seconds)
}

func (r *Recorder) RecordModelFailure(slot, stage string) {
	r.modelFailures.WithLabelValues(slot, stage).Inc()
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, topic string) {
	r.messagesSent.WithLabelValues(backend, topic).Inc()
}

func (r *Recorder) RecordTrade(source, symbol string, price float64) {
	r.tradesReceived.WithLabelValues(source).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
