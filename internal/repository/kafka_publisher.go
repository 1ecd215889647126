package repository

import (
	"context"
	"fmt"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	pkgkafka "FinGuard/pkg/kafka"
)

// messagePublisher is the part of pkg/kafka.Producer the publishers use.
type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

var _ messagePublisher = (*pkgkafka.Producer)(nil)

// KafkaEventPublisher routes analysis.completed events to the results topic
// and anomaly.alert events to the alerts topic, keyed by analysis id.
type KafkaEventPublisher struct {
	producer     messagePublisher
	resultsTopic string
	alertsTopic  string
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer *pkgkafka.Producer, resultsTopic, alertsTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, resultsTopic: resultsTopic, alertsTopic: alertsTopic}
}

func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, ev *models.AnalysisEvent) error {
	topic := p.resultsTopic
	if ev.Type == models.EventAnomalyAlert {
		topic = p.alertsTopic
	}
	var key []byte
	if ev.Result != nil {
		key = []byte(ev.Result.ID)
	}
	if err := p.producer.Publish(ctx, topic, key, ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close is a no-op; the producer is shared and closed by the app.
func (p *KafkaEventPublisher) Close() error {
	return nil
}

// KafkaTradePublisher mirrors stream trades onto the trades topic, keyed by
// symbol so one symbol stays ordered.
type KafkaTradePublisher struct {
	producer messagePublisher
	topic    string
}

var _ domrepo.TradePublisher = (*KafkaTradePublisher)(nil)

func NewKafkaTradePublisher(producer *pkgkafka.Producer, topic string) *KafkaTradePublisher {
	return &KafkaTradePublisher{producer: producer, topic: topic}
}

func (p *KafkaTradePublisher) PublishTrade(ctx context.Context, t *models.Trade) error {
	return p.producer.Publish(ctx, p.topic, []byte(t.Symbol), models.NewTickMessage(t))
}

func (p *KafkaTradePublisher) Close() error {
	return nil
}
