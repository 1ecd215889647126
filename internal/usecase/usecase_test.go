package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGuard/internal/domain/models"
	drepo "FinGuard/internal/domain/repository"
	"FinGuard/internal/repository"
	"FinGuard/internal/services/analytics"
	"FinGuard/internal/services/ingest"
	"FinGuard/internal/services/simulator"
	pkgcache "FinGuard/pkg/cache"
	pkgkafka "FinGuard/pkg/kafka"
)

type fakeMetrics struct {
	mu       sync.Mutex
	errors   map[string]int
	analyses map[string]int
	trades   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: map[string]int{}, analyses: map[string]int{}, trades: map[string]int{}}
}

func (m *fakeMetrics) RecordAnalysis(source string, _, _ int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[source]++
}

func (m *fakeMetrics) RecordModelFailure(string, string) {}
func (m *fakeMetrics) RecordLatency(string, float64)     {}

func (m *fakeMetrics) RecordTrade(source, _ string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[source]++
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*models.AnalysisEvent
}

func (f *fakeEvents) PublishEvent(_ context.Context, ev *models.AnalysisEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

type failingStore struct{ drepo.AnalysisStore }

func (failingStore) Save(context.Context, *models.AnalysisResult) error {
	return errors.New("clickhouse down")
}

type fakeQueue struct {
	msgType string
	payload interface{}
}

func (q *fakeQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.msgType = msgType
	q.payload = payload
	return "msg-1", nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fixture struct {
	svc     *AnalysisService
	store   *repository.MemoryAnalysisStore
	cache   *repository.ResultCache
	events  *fakeEvents
	metrics *fakeMetrics
	window  *LiveWindow
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	mem := pkgcache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	f := &fixture{
		store:   repository.NewMemoryAnalysisStore(50),
		cache:   repository.NewResultCache(mem),
		events:  &fakeEvents{},
		metrics: newFakeMetrics(),
		window:  NewLiveWindow(100),
	}
	factory := analytics.NewFactory(analytics.FactoryConfig{Seed: 11}, nil)
	base := []ServiceOption{
		WithResultCache(f.cache, time.Minute),
		WithEventPublisher(f.events),
		WithTimeout(10 * time.Second),
		withIDs(sequentialIDs()),
	}
	f.svc = NewAnalysisService(factory, f.store, f.window, f.metrics, append(base, opts...)...)
	return f
}

func priceCSV(n int) string {
	var b strings.Builder
	b.WriteString("price,qty\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d.5,%d\n", 100+i%7, 1+i%3)
	}
	return b.String()
}

func tradeAt(i int) models.Trade {
	return models.Trade{
		Symbol: "BTCUSDT",
		Price:  float64(100 + i),
		Qty:    1,
		Time:   time.Unix(1700000000, 0).Add(time.Duration(i) * time.Second),
	}
}

func TestLiveWindowRing(t *testing.T) {
	w := NewLiveWindow(3)
	_, ok := w.Last()
	assert.False(t, ok)
	assert.Empty(t, w.Latest(5))

	for i := 1; i <= 5; i++ {
		w.Add(tradeAt(i))
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, uint64(5), w.Total())

	all := w.Latest(0)
	require.Len(t, all, 3)
	assert.Equal(t, []float64{103, 104, 105}, []float64{all[0].Price, all[1].Price, all[2].Price})

	two := w.Latest(2)
	assert.Equal(t, 104.0, two[0].Price)
	assert.Equal(t, 105.0, two[1].Price)

	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 105.0, last.Price)

	rs := w.Snapshot(2)
	assert.Equal(t, 2, rs.Len())
	assert.True(t, rs.HasColumns("price", "qty", "time"))
}

func TestAnalyzeUploadStoresCachesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.AnalyzeUpload(ctx, "trades.csv", strings.NewReader(priceCSV(40)))
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.ID)
	assert.Equal(t, models.SourceUpload, res.Source)
	assert.Equal(t, "trades.csv", res.Filename)
	assert.Equal(t, 40, res.TotalTransactions)
	assert.Equal(t, analytics.BatchAccuracy, res.AccuracyScore)

	stored, err := f.store.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, res.AnomalyIndices, stored.AnomalyIndices)

	cached, err := f.cache.Fetch(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, res.TotalTransactions, cached.TotalTransactions)

	require.NotEmpty(t, f.events.events)
	assert.Equal(t, models.EventAnalysisCompleted, f.events.events[0].Type)
	if res.AnomaliesDetected > 0 {
		require.Len(t, f.events.events, 2)
		assert.Equal(t, models.EventAnomalyAlert, f.events.events[1].Type)
		assert.Equal(t, Severity(res.AnomalyRate()), f.events.events[1].Severity)
	} else {
		assert.Len(t, f.events.events, 1)
	}
	assert.Equal(t, 1, f.metrics.analyses["upload"])
}

func TestAnalyzeUploadRejectsSchema(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AnalyzeUpload(context.Background(), "bad.csv", strings.NewReader("a,b\n1,2\n"))
	assert.ErrorIs(t, err, analytics.ErrSourceAdapter)
	assert.ErrorIs(t, err, ingest.ErrUnsupportedSchema)
	assert.Empty(t, f.events.events)
}

func TestAnalyzeLive(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 30; i++ {
		f.window.Add(tradeAt(i))
	}

	res, err := f.svc.AnalyzeLive(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 20, res.TotalTransactions)
	assert.True(t, res.LiveData)
	assert.Equal(t, models.SourceLive, res.Source)
	assert.GreaterOrEqual(t, res.AnomaliesDetected, 1)
	lo, hi := analytics.LiveBand(res.AnomaliesDetected)
	assert.GreaterOrEqual(t, res.AccuracyScore, lo)
	assert.LessOrEqual(t, res.AccuracyScore, hi)
}

func TestAnalyzeLiveEmptyWindow(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.AnalyzeLive(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.TotalTransactions)
	assert.Zero(t, res.AnomaliesDetected)
}

func TestSimulate(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Simulate(context.Background(), 50, 3)
	require.NoError(t, err)
	assert.Len(t, out.Transactions, 50)
	assert.True(t, out.Analysis.SimulatedData)
	assert.GreaterOrEqual(t, out.Analysis.AccuracyScore, 0.84)
	assert.LessOrEqual(t, out.Analysis.AccuracyScore, 0.94)
	require.NotNil(t, out.Analysis.TrueAnomalies)

	_, err = f.svc.Simulate(context.Background(), 0, 3)
	assert.ErrorIs(t, err, analytics.ErrSourceAdapter)
}

func TestCustomReaderAndSimulator(t *testing.T) {
	f := newFixture(t,
		WithCSVReader(ingest.NewReader(ingest.WithComma(';'))),
		WithSimulator(simulator.New(simulator.WithPriceRange(simulator.Range{Min: 100, Max: 200}))),
	)
	ctx := context.Background()

	csv := strings.ReplaceAll(priceCSV(20), ",", ";")
	res, err := f.svc.AnalyzeUpload(ctx, "semi.csv", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 20, res.TotalTransactions)

	out, err := f.svc.Simulate(ctx, 30, 9)
	require.NoError(t, err)
	for _, tx := range out.Transactions {
		assert.GreaterOrEqual(t, tx.Price, 100.0)
		assert.LessOrEqual(t, tx.Price, 200.0)
	}
}

func TestGetFallsBackToStoreAndRefillsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &models.AnalysisResult{ID: "stored", TotalTransactions: 3}))

	_, err := f.cache.Fetch(ctx, "stored")
	require.ErrorIs(t, err, drepo.ErrNotFound)

	got, err := f.svc.Get(ctx, "stored")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalTransactions)

	cached, err := f.cache.Fetch(ctx, "stored")
	require.NoError(t, err)
	assert.Equal(t, "stored", cached.ID)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, drepo.ErrNotFound)
}

func TestStoreFailureIsReturned(t *testing.T) {
	metrics := newFakeMetrics()
	factory := analytics.NewFactory(analytics.FactoryConfig{Seed: 5}, nil)
	svc := NewAnalysisService(factory, failingStore{}, NewLiveWindow(10), metrics)

	_, err := svc.AnalyzeUpload(context.Background(), "x.csv", strings.NewReader(priceCSV(10)))
	assert.ErrorContains(t, err, "clickhouse down")
	assert.Equal(t, 1, metrics.errorCount("analysis_store"))
}

func TestEnqueueUploadAndBatchJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnqueueUpload(ctx, "a.csv", []byte(priceCSV(5)))
	assert.ErrorIs(t, err, ErrQueueDisabled)

	q := &fakeQueue{}
	f = newFixture(t, WithQueue(q))
	_, err = f.svc.EnqueueUpload(ctx, "bad.csv", []byte("x\n1\n"))
	assert.ErrorIs(t, err, analytics.ErrSourceAdapter)

	id, err := f.svc.EnqueueUpload(ctx, "a.csv", []byte(priceCSV(25)))
	require.NoError(t, err)
	assert.Equal(t, JobTypeBatch, q.msgType)

	_, err = f.store.Get(ctx, id)
	require.ErrorIs(t, err, drepo.ErrNotFound)

	raw, err := json.Marshal(q.payload)
	require.NoError(t, err)
	job := NewBatchJob(f.svc, nil)
	assert.Equal(t, JobTypeBatch, job.Type())
	require.NoError(t, job.Handle(ctx, raw))

	res, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 25, res.TotalTransactions)
	assert.Equal(t, "a.csv", res.Filename)
}

func TestBatchJobDropsBadInput(t *testing.T) {
	f := newFixture(t)
	job := NewBatchJob(f.svc, nil)
	raw, _ := json.Marshal(BatchPayload{ID: "x", Filename: "bad.csv", CSV: "a\n1\n"})
	assert.NoError(t, job.Handle(context.Background(), raw))
	assert.Error(t, job.Handle(context.Background(), nil))
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, "low", Severity(0.01))
	assert.Equal(t, "medium", Severity(0.05))
	assert.Equal(t, "high", Severity(0.5))
}

func TestKafkaTicksHandler(t *testing.T) {
	w := NewLiveWindow(10)
	metrics := newFakeMetrics()
	h := NewKafkaTicksHandler("finguard.trades", w, metrics)
	assert.Equal(t, "finguard.trades", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"BTCUSDT","t":1700000000000,"p":43000.5,"q":0.1}`)))
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 43000.5, last.Price)
	assert.Equal(t, int64(1700000000), last.Time.Unix())
	assert.Equal(t, 1, metrics.trades["kafka"])

	var herr *pkgkafka.HookError
	assert.ErrorAs(t, h.Handle(context.Background(), []byte(`{`)), &herr)
	assert.ErrorAs(t, h.Handle(context.Background(), []byte(`{"symbol":"X","t":1,"p":-1,"q":1}`)), &herr)
	assert.Equal(t, "ERR_VALIDATION", herr.Code)
	assert.Equal(t, 1, w.Len())
}
