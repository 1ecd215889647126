package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"FinGuard/pkg/logger"
)

const (
	// DefaultSeed seeds every model's internal randomness.
	DefaultSeed int64 = 42
	// AnomalyPrior is the Bernoulli rate of the synthetic bootstrap labels.
	AnomalyPrior = 0.1
)

var ErrScalerBootstrap = errors.New("scaler bootstrap failed")

type SlotName string

const (
	SlotSVM          SlotName = "svm"
	SlotRandomForest SlotName = "random_forest"
	SlotAdaBoost     SlotName = "adaboost"
	SlotXGBoost      SlotName = "xgboost"
)

// SlotNames is the fixed slot order used for reporting.
var SlotNames = []SlotName{SlotSVM, SlotRandomForest, SlotAdaBoost, SlotXGBoost}

type SourceKind string

const (
	LoadedFromStorage  SourceKind = "loaded_from_storage"
	FreshlyInitialized SourceKind = "freshly_initialized"
)

// ModelSource records where a slot's model came from. Path is set for
// loaded models.
type ModelSource struct {
	Kind SourceKind `json:"kind"`
	Path string     `json:"path,omitempty"`
}

// Slot is one named ensemble member.
type Slot struct {
	Name   SlotName
	Model  Classifier
	Source ModelSource

	trained bool
	fitErr  error
}

// Trained reports the lifecycle flag. A slot whose bootstrap fit failed is
// still marked trained; FitError carries the failure.
func (s *Slot) Trained() bool   { return s.trained }
func (s *Slot) FitError() error { return s.fitErr }

// FailureHook observes per-slot failures; stage is "load", "fit" or "save".
type FailureHook func(slot SlotName, stage string, err error)

// Registry owns the four ensemble slots and the shared scaler, and performs
// the one-time bootstrap fit on synthetic labels.
type Registry struct {
	mu sync.Mutex

	dir           string
	slots         []*Slot
	scaler        *StandardScaler
	scalerSource  ModelSource
	scalerTrained bool

	overrides map[SlotName]Classifier
	log       *logger.Logger
	onFailure FailureHook
}

type RegistryOption func(*Registry)

// WithModelDir enables loading and saving artifacts under dir.
func WithModelDir(dir string) RegistryOption {
	return func(r *Registry) { r.dir = dir }
}

func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClassifier replaces the default model of a slot.
func WithClassifier(slot SlotName, c Classifier) RegistryOption {
	return func(r *Registry) { r.overrides[slot] = c }
}

func WithFailureHook(h FailureHook) RegistryOption {
	return func(r *Registry) { r.onFailure = h }
}

// DefaultClassifier returns the untrained model that backs a slot.
func DefaultClassifier(slot SlotName) Classifier {
	switch slot {
	case SlotSVM:
		return NewLinearSVM(WithSVMSeed(DefaultSeed))
	case SlotRandomForest:
		return NewRandomForest(WithForestSeed(DefaultSeed))
	case SlotAdaBoost:
		return NewAdaBoost()
	case SlotXGBoost:
		return NewGradientBoosting()
	default:
		return nil
	}
}

// NewRegistry builds the slots and, when a model dir is configured, restores
// any artifacts found there. Missing or unreadable artifacts leave the slot
// freshly initialised.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		overrides:    make(map[SlotName]Classifier),
		log:          logger.Nop(),
		scaler:       NewStandardScaler(),
		scalerSource: ModelSource{Kind: FreshlyInitialized},
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, name := range SlotNames {
		model, ok := r.overrides[name]
		if !ok {
			model = DefaultClassifier(name)
		}
		r.slots = append(r.slots, &Slot{
			Name:   name,
			Model:  model,
			Source: ModelSource{Kind: FreshlyInitialized},
		})
	}

	if r.dir != "" {
		r.loadArtifacts()
	}
	return r
}

func (r *Registry) loadArtifacts() {
	path := ScalerPath(r.dir)
	if err := readArtifact(path, "scaler", r.scaler); err == nil {
		r.scalerTrained = true
		r.scalerSource = ModelSource{Kind: LoadedFromStorage, Path: path}
	} else if !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("failed to load scaler artifact", logger.String("path", path), logger.Error(err))
	}

	for _, s := range r.slots {
		p, ok := s.Model.(Persistable)
		if !ok {
			continue
		}
		path := ModelPath(r.dir, s.Name)
		err := readArtifact(path, string(s.Name), p)
		switch {
		case err == nil:
			s.trained = true
			s.Source = ModelSource{Kind: LoadedFromStorage, Path: path}
			r.log.Info("model loaded", logger.String("slot", string(s.Name)), logger.String("path", path))
		case errors.Is(err, os.ErrNotExist):
		default:
			r.log.Warn("failed to load model artifact", logger.String("slot", string(s.Name)), logger.Error(err))
			r.fail(s.Name, "load", err)
		}
	}
}

func (r *Registry) fail(slot SlotName, stage string, err error) {
	if r.onFailure != nil {
		r.onFailure(slot, stage, err)
	}
}

// Trained is true once the scaler and every slot have left the untrained state.
func (r *Registry) Trained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trainedLocked()
}

func (r *Registry) trainedLocked() bool {
	if !r.scalerTrained {
		return false
	}
	for _, s := range r.slots {
		if !s.trained {
			return false
		}
	}
	return true
}

// Bootstrap fits whatever is still untrained on X with synthetic labels drawn
// from rng. It runs at most once per registry; later calls are no-ops. A
// slot whose fit fails is logged, reported to the failure hook and left unfit.
func (r *Registry) Bootstrap(X [][]float64, rng *rand.Rand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.trainedLocked() {
		return nil
	}

	y := SyntheticLabels(rng, len(X), AnomalyPrior)

	if !r.scalerTrained {
		if err := r.scaler.Fit(X); err != nil {
			return fmt.Errorf("%w: %v", ErrScalerBootstrap, err)
		}
		r.scalerTrained = true
	}
	scaled, err := r.scaler.Transform(X)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScalerBootstrap, err)
	}

	for _, s := range r.slots {
		if s.trained {
			continue
		}
		if err := s.Model.Fit(scaled, y); err != nil {
			s.fitErr = err
			r.log.Error("model bootstrap fit failed", logger.String("slot", string(s.Name)), logger.Error(err))
			r.fail(s.Name, "fit", err)
		}
		s.trained = true
	}

	r.log.Info("models bootstrapped", logger.Int("rows", len(X)))
	return nil
}

// Transform scales X with the shared scaler.
func (r *Registry) Transform(X [][]float64) ([][]float64, error) {
	return r.scaler.Transform(X)
}

// Slots returns the slots in SlotNames order.
func (r *Registry) Slots() []*Slot {
	out := make([]*Slot, len(r.slots))
	copy(out, r.slots)
	return out
}

func (r *Registry) Sources() map[SlotName]ModelSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[SlotName]ModelSource, len(r.slots))
	for _, s := range r.slots {
		out[s.Name] = s.Source
	}
	return out
}

func (r *Registry) ScalerSource() ModelSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scalerSource
}

// SaveArtifacts writes the scaler and every successfully fitted persistable
// slot under the model dir.
func (r *Registry) SaveArtifacts() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dir == "" {
		return errors.New("model dir is not configured")
	}
	if !r.scalerTrained {
		return ErrNotFitted
	}
	if err := writeArtifact(ScalerPath(r.dir), "scaler", r.scaler); err != nil {
		return err
	}

	var errs []error
	for _, s := range r.slots {
		p, ok := s.Model.(Persistable)
		if !ok || !s.trained || s.fitErr != nil {
			continue
		}
		if err := writeArtifact(ModelPath(r.dir, s.Name), string(s.Name), p); err != nil {
			r.fail(s.Name, "save", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// SyntheticLabels draws n independent Bernoulli(p) labels.
func SyntheticLabels(rng *rand.Rand, n int, p float64) []int {
	y := make([]int, n)
	for i := range y {
		if rng.Float64() < p {
			y[i] = 1
		}
	}
	return y
}
