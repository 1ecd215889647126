package kafka

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// register adds c to reg, reusing an identical collector that is already
// registered so several producers or consumers can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	return &producerMetrics{
		messages: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_kafka_producer_messages_total",
				Help: "Total messages published to Kafka",
			},
			[]string{"topic", "result"},
		)),
		bytes: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_kafka_producer_bytes_total",
				Help: "Total payload bytes published",
			},
			[]string{"topic"},
		)),
		latency: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finguard_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)),
	}
}

func (m *producerMetrics) observe(topic string, bytes int64, count int, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Add(float64(count))
	m.bytes.WithLabelValues(topic).Add(float64(bytes))
	m.latency.WithLabelValues(topic).Observe(seconds)
}

type consumerMetrics struct {
	queueDepth *prometheus.GaugeVec
	handled    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	return &consumerMetrics{
		queueDepth: register(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finguard_kafka_consumer_queue_depth",
				Help: "Number of messages waiting in the consumer queue",
			},
			[]string{"topic"},
		)),
		handled: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finguard_kafka_consumer_messages_total",
				Help: "Messages handled by result (ok, error, dlq)",
			},
			[]string{"topic", "result"},
		)),
		latency: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finguard_kafka_consumer_handle_seconds",
				Help:    "Handling time per message including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)),
	}
}
