package repository

import (
	"context"
	"errors"
	"time"

	"FinGuard/internal/domain/models"
)

// ErrNotFound is returned by stores and caches when no result exists for an id.
var ErrNotFound = errors.New("analysis not found")

// TradeStream is a live market trade feed.
type TradeStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TradeSink accepts trades from the stream or the Kafka consumer.
type TradeSink interface {
	Add(t models.Trade)
}

// TradePublisher mirrors live trades onto the message bus.
type TradePublisher interface {
	PublishTrade(ctx context.Context, t *models.Trade) error
	Close() error
}

// AnalysisStore persists analysis results.
type AnalysisStore interface {
	Save(ctx context.Context, r *models.AnalysisResult) error
	Get(ctx context.Context, id string) (*models.AnalysisResult, error)
	List(ctx context.Context, f models.AnalysisFilter) ([]*models.AnalysisResult, error)
	Health(ctx context.Context) error
	Close() error
}

// ResultCache is a TTL cache of analysis results keyed by id.
type ResultCache interface {
	Put(ctx context.Context, r *models.AnalysisResult, ttl time.Duration) error
	Fetch(ctx context.Context, id string) (*models.AnalysisResult, error)
}

// EventPublisher publishes analysis lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *models.AnalysisEvent) error
	Close() error
}

// Metrics records service level measurements.
type Metrics interface {
	RecordAnalysis(source string, total, anomalies int, seconds float64)
	RecordModelFailure(slot, stage string)
	RecordTrade(source, symbol string, price float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
