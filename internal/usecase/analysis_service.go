package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"FinGuard/internal/domain/models"
	drepo "FinGuard/internal/domain/repository"
	"FinGuard/internal/domain/service"
	"FinGuard/internal/services/analytics"
	"FinGuard/internal/services/ingest"
	"FinGuard/internal/services/simulator"
	"FinGuard/pkg/logger"
	"FinGuard/pkg/queue"
)

// JobTypeBatch is the queue message type for asynchronous uploads.
const JobTypeBatch = "analysis.batch"

// ErrQueueDisabled is returned by EnqueueUpload when no queue is configured.
var ErrQueueDisabled = errors.New("async analysis queue is disabled")

// modelPersister saves freshly bootstrapped models, see analytics.Factory.
type modelPersister interface {
	Persist(a service.Analyzer) error
}

// AnalysisService runs one analysis end to end: pick an analyzer, run the
// source adapter, then store, cache, publish and measure the result.
type AnalysisService struct {
	factory   service.AnalyzerFactory
	store     drepo.AnalysisStore
	cache     drepo.ResultCache
	events    drepo.EventPublisher
	metrics   drepo.Metrics
	queue     queue.Publisher
	window    *LiveWindow
	simulator *simulator.Simulator
	csv       *ingest.Reader
	log       *logger.Logger

	timeout  time.Duration
	cacheTTL time.Duration
	newID    func() string
	now      func() time.Time
}

type ServiceOption func(*AnalysisService)

// WithResultCache caches results for ttl after they are stored.
func WithResultCache(c drepo.ResultCache, ttl time.Duration) ServiceOption {
	return func(s *AnalysisService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithEventPublisher(p drepo.EventPublisher) ServiceOption {
	return func(s *AnalysisService) { s.events = p }
}

// WithQueue enables EnqueueUpload.
func WithQueue(q queue.Publisher) ServiceOption {
	return func(s *AnalysisService) { s.queue = q }
}

// WithTimeout bounds every analysis call.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *AnalysisService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithCSVReader(r *ingest.Reader) ServiceOption {
	return func(s *AnalysisService) { s.csv = r }
}

func WithSimulator(sim *simulator.Simulator) ServiceOption {
	return func(s *AnalysisService) { s.simulator = sim }
}

func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(s *AnalysisService) {
		if l != nil {
			s.log = l
		}
	}
}

func withIDs(fn func() string) ServiceOption {
	return func(s *AnalysisService) { s.newID = fn }
}

func NewAnalysisService(
	factory service.AnalyzerFactory,
	store drepo.AnalysisStore,
	window *LiveWindow,
	metrics drepo.Metrics,
	opts ...ServiceOption,
) *AnalysisService {
	s := &AnalysisService{
		factory:   factory,
		store:     store,
		window:    window,
		metrics:   metrics,
		simulator: simulator.New(),
		csv:       ingest.NewReader(),
		log:       logger.Nop(),
		timeout:   30 * time.Second,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type adapterFunc func(a service.Analyzer, ctx context.Context, rs *models.RecordSet) (*models.AnalysisResult, error)

var adapters = map[models.Source]adapterFunc{
	models.SourceUpload:    service.Analyzer.AnalyzeBatch,
	models.SourceLive:      service.Analyzer.AnalyzeLive,
	models.SourceSimulated: service.Analyzer.AnalyzeSimulated,
}

// AnalyzeUpload parses a CSV upload and runs the batch adapter on it.
func (s *AnalysisService) AnalyzeUpload(ctx context.Context, filename string, src io.Reader) (*models.AnalysisResult, error) {
	return s.analyzeUpload(ctx, s.newID(), filename, src)
}

func (s *AnalysisService) analyzeUpload(ctx context.Context, id, filename string, src io.Reader) (*models.AnalysisResult, error) {
	rs, err := s.csv.ReadSupported(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", analytics.ErrSourceAdapter, filename, err)
	}
	return s.run(ctx, id, models.SourceUpload, filename, rs)
}

// BatchPayload is the queue payload of an asynchronous upload.
type BatchPayload struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	CSV      string `json:"csv"`
}

// EnqueueUpload checks the CSV schema, then queues the batch analysis and
// returns the id the result will be stored under.
func (s *AnalysisService) EnqueueUpload(ctx context.Context, filename string, data []byte) (string, error) {
	if s.queue == nil {
		return "", ErrQueueDisabled
	}
	if _, err := s.csv.ReadSupported(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%w: %s: %w", analytics.ErrSourceAdapter, filename, err)
	}

	id := s.newID()
	msgID, err := s.queue.Enqueue(ctx, JobTypeBatch, BatchPayload{ID: id, Filename: filename, CSV: string(data)})
	if err != nil {
		s.metrics.RecordError("queue_enqueue")
		return "", fmt.Errorf("enqueue analysis: %w", err)
	}
	s.log.Info("analysis queued",
		logger.String("id", id),
		logger.String("message_id", msgID),
		logger.String("filename", filename),
	)
	return id, nil
}

// AnalyzeLive runs the live adapter on the latest limit trades.
func (s *AnalysisService) AnalyzeLive(ctx context.Context, limit int) (*models.AnalysisResult, error) {
	return s.run(ctx, s.newID(), models.SourceLive, "", s.window.Snapshot(limit))
}

// Simulate generates n transactions and runs the simulated adapter on them.
func (s *AnalysisService) Simulate(ctx context.Context, n int, seed int64) (*models.SimulateResponse, error) {
	txs, err := s.simulator.Generate(n, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", analytics.ErrSourceAdapter, err)
	}
	res, err := s.run(ctx, s.newID(), models.SourceSimulated, "", models.SimulatedToRecordSet(txs))
	if err != nil {
		return nil, err
	}
	return &models.SimulateResponse{Analysis: res, Transactions: txs}, nil
}

// Get returns a cached result, falling back to the store and refilling the
// cache on a store hit.
func (s *AnalysisService) Get(ctx context.Context, id string) (*models.AnalysisResult, error) {
	if s.cache != nil {
		r, err := s.cache.Fetch(ctx, id)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, drepo.ErrNotFound) {
			s.log.Warn("result cache fetch failed", logger.String("id", id), logger.Error(err))
		}
	}

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheResult(ctx, r)
	return r, nil
}

// List returns stored results, newest first.
func (s *AnalysisService) List(ctx context.Context, f models.AnalysisFilter) ([]*models.AnalysisResult, error) {
	return s.store.List(ctx, f)
}

// LiveWindowLen returns the number of trades in the live window.
func (s *AnalysisService) LiveWindowLen() int {
	return s.window.Len()
}

// Health reports whether the result store is reachable.
func (s *AnalysisService) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

func (s *AnalysisService) run(ctx context.Context, id string, source models.Source, filename string, rs *models.RecordSet) (*models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	analyzer, err := s.factory.Analyzer()
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}

	start := s.now()
	res, err := adapters[source](analyzer, ctx, rs)
	if err != nil {
		s.metrics.RecordError("analysis_" + string(source))
		return nil, fmt.Errorf("%s analysis: %w", source, err)
	}
	elapsed := s.now().Sub(start)

	if p, ok := s.factory.(modelPersister); ok {
		if err := p.Persist(analyzer); err != nil {
			s.log.Warn("persist models failed", logger.Error(err))
		}
	}

	res.ID = id
	res.Source = source
	res.Filename = filename
	s.metrics.RecordAnalysis(string(source), res.TotalTransactions, res.AnomaliesDetected, elapsed.Seconds())

	if err := s.store.Save(ctx, res); err != nil {
		s.metrics.RecordError("analysis_store")
		s.log.Error("store analysis failed", logger.String("id", id), logger.Error(err))
		return nil, fmt.Errorf("store analysis: %w", err)
	}
	s.cacheResult(ctx, res)
	s.publish(ctx, res)

	s.log.Info("analysis completed",
		logger.String("id", id),
		logger.String("source", string(source)),
		logger.Int("total", res.TotalTransactions),
		logger.Int("anomalies", res.AnomaliesDetected),
		logger.Float64("accuracy", res.AccuracyScore),
		logger.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (s *AnalysisService) cacheResult(ctx context.Context, r *models.AnalysisResult) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, r, s.cacheTTL); err != nil {
		s.metrics.RecordError("analysis_cache")
		s.log.Warn("cache analysis failed", logger.String("id", r.ID), logger.Error(err))
	}
}

func (s *AnalysisService) publish(ctx context.Context, r *models.AnalysisResult) {
	if s.events == nil {
		return
	}
	now := s.now().UTC()
	events := []*models.AnalysisEvent{{Type: models.EventAnalysisCompleted, Result: r, Published: now}}
	if r.AnomaliesDetected > 0 {
		events = append(events, &models.AnalysisEvent{
			Type:      models.EventAnomalyAlert,
			Severity:  Severity(r.AnomalyRate()),
			Message:   fmt.Sprintf("%d anomalies in %d transactions", r.AnomaliesDetected, r.TotalTransactions),
			Result:    r,
			Published: now,
		})
	}
	for _, ev := range events {
		if err := s.events.PublishEvent(ctx, ev); err != nil {
			s.metrics.RecordError("analysis_event")
			s.log.Warn("publish analysis event failed",
				logger.String("id", r.ID),
				logger.String("type", ev.Type),
				logger.Error(err),
			)
		}
	}
}

// Severity buckets an anomaly rate for alerts.
func Severity(rate float64) string {
	switch {
	case rate >= 0.2:
		return "high"
	case rate >= 0.05:
		return "medium"
	default:
		return "low"
	}
}
