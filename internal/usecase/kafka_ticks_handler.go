package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	pkgkafka "FinGuard/pkg/kafka"
)

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)

// KafkaTicksHandler consumes tick messages from the trades topic into the
// live window.
type KafkaTicksHandler struct {
	topic   string
	sink    domrepo.TradeSink
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewKafkaTicksHandler(topic string, sink domrepo.TradeSink, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, sink: sink, metrics: metrics, now: time.Now}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// Handle decodes a {symbol, t, p, q} tick and adds it to the sink. Malformed
// ticks are returned as validation errors, which the consumer does not retry.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m models.TickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: fmt.Errorf("decode tick: %w", err)}
	}
	t, err := m.ToTrade()
	if err != nil {
		h.metrics.RecordError("consumer_invalid")
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: err}
	}

	h.metrics.RecordLatency("ingest_e2e", h.now().Sub(t.Time).Seconds())
	h.sink.Add(t)
	h.metrics.RecordTrade("kafka", t.Symbol, t.Price)
	return nil
}
