package analytics

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"FinGuard/internal/domain/models"
	"FinGuard/internal/domain/service"
	"FinGuard/internal/services/features"
	"FinGuard/internal/services/ml"
	"FinGuard/pkg/logger"
)

// Analyzer scores record sets from the three sources. It is safe for
// concurrent use; its random generator is instance-scoped and locked.
type Analyzer struct {
	registry  *ml.Registry
	extractor *features.Extractor
	ensemble  *Ensemble
	rng       *rand.Rand
	log       *logger.Logger
	now       func() time.Time

	seed      int64
	modelDir  string
	onFailure ml.FailureHook
	regOpts   []ml.RegistryOption
}

var _ service.Analyzer = (*Analyzer)(nil)

type Option func(*Analyzer)

// WithSeed fixes the analyzer's generator. Without it the generator is
// seeded from the clock.
func WithSeed(seed int64) Option {
	return func(a *Analyzer) { a.seed = seed }
}

func WithLogger(l *logger.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.log = l
		}
	}
}

// WithModelDir loads artifacts from dir at construction.
func WithModelDir(dir string) Option {
	return func(a *Analyzer) { a.modelDir = dir }
}

// WithFailureHook observes per-slot load, fit and predict failures.
func WithFailureHook(h ml.FailureHook) Option {
	return func(a *Analyzer) { a.onFailure = h }
}

// WithRegistry shares an existing registry instead of building one.
func WithRegistry(r *ml.Registry) Option {
	return func(a *Analyzer) { a.registry = r }
}

// WithRegistryOptions passes extra options to the registry the analyzer builds.
func WithRegistryOptions(opts ...ml.RegistryOption) Option {
	return func(a *Analyzer) { a.regOpts = append(a.regOpts, opts...) }
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func New(opts ...Option) *Analyzer {
	a := &Analyzer{log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	seed := a.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a.rng = rand.New(newLockedSource(seed))

	if a.registry == nil {
		regOpts := []ml.RegistryOption{
			ml.WithRegistryLogger(a.log),
			ml.WithFailureHook(a.onFailure),
		}
		if a.modelDir != "" {
			regOpts = append(regOpts, ml.WithModelDir(a.modelDir))
		}
		a.registry = ml.NewRegistry(append(regOpts, a.regOpts...)...)
	}

	a.extractor = features.NewExtractor(a.rng, features.WithLogger(a.log))
	a.ensemble = NewEnsemble(a.registry, a.log, a.onFailure)
	return a
}

// Registry exposes the model registry, e.g. to persist artifacts.
func (a *Analyzer) Registry() *ml.Registry { return a.registry }

// score runs extraction, the one-time bootstrap and the ensemble. An empty
// input skips bootstrap and yields empty scores.
func (a *Analyzer) score(ctx context.Context, rs *models.RecordSet) (*Scores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	X := a.extractor.Extract(rs)
	if len(X) == 0 {
		return emptyScores(), nil
	}

	if err := a.registry.Bootstrap(X, a.rng); err != nil {
		return nil, fmt.Errorf("bootstrap models: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scaled, err := a.registry.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}

	scores := a.ensemble.Score(scaled)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (a *Analyzer) newResult(total int, labels []int) *models.AnalysisResult {
	indices := make([]int, 0)
	for i, l := range labels {
		if l == 1 {
			indices = append(indices, i)
		}
	}
	return &models.AnalysisResult{
		TotalTransactions: total,
		AnomaliesDetected: len(indices),
		AnomalyIndices:    indices,
		AnalysisTimestamp: models.FormatTimestamp(a.now()),
	}
}

// uniform2 draws from [lo, hi] and rounds to two decimals. lo and hi carry
// two decimals, so the rounded value stays inside the band.
func (a *Analyzer) uniform2(lo, hi float64) float64 {
	v := lo + a.rng.Float64()*(hi-lo)
	return math.Min(hi, math.Max(lo, math.Round(v*100)/100))
}

// lockedSource serialises access to a rand.Source so one generator can back
// concurrent analyses.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source64
}

func newLockedSource(seed int64) *lockedSource {
	return &lockedSource{src: rand.NewSource(seed).(rand.Source64)}
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}
