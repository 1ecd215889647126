package analytics

import (
	"sync"

	"FinGuard/internal/domain/service"
	"FinGuard/internal/services/ml"
	"FinGuard/pkg/logger"
)

// Factory hands out analyzers. In pooled mode every call returns the same
// analyzer; otherwise each call builds a fresh one from the same options.
type Factory struct {
	opts     []Option
	pooled   *Analyzer
	modelDir string
	persist  bool
	log      *logger.Logger

	mu    sync.Mutex
	saved bool
}

var _ service.AnalyzerFactory = (*Factory)(nil)

type FactoryConfig struct {
	Pool     bool
	ModelDir string
	// Persist writes the artifacts of the first bootstrapped analyzer to ModelDir.
	Persist bool
	Seed    int64
}

func NewFactory(cfg FactoryConfig, log *logger.Logger, opts ...Option) *Factory {
	if log == nil {
		log = logger.Nop()
	}
	base := []Option{WithLogger(log)}
	if cfg.Seed != 0 {
		base = append(base, WithSeed(cfg.Seed))
	}
	if cfg.ModelDir != "" {
		base = append(base, WithModelDir(cfg.ModelDir))
	}

	f := &Factory{
		opts:     append(base, opts...),
		modelDir: cfg.ModelDir,
		persist:  cfg.Persist && cfg.ModelDir != "",
		log:      log,
	}
	if cfg.Pool {
		f.pooled = New(f.opts...)
	}
	return f
}

func (f *Factory) Analyzer() (service.Analyzer, error) {
	if f.pooled != nil {
		return f.pooled, nil
	}
	return New(f.opts...), nil
}

// Persist saves a's freshly bootstrapped models once per factory so later
// analyzers load them instead of bootstrapping again.
func (f *Factory) Persist(a service.Analyzer) error {
	if !f.persist {
		return nil
	}
	an, ok := a.(*Analyzer)
	if !ok || !an.registry.Trained() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved {
		return nil
	}
	for _, src := range an.registry.Sources() {
		if src.Kind == ml.LoadedFromStorage {
			f.saved = true
			return nil
		}
	}

	if err := an.registry.SaveArtifacts(); err != nil {
		return err
	}
	f.saved = true
	f.log.Info("model artifacts saved", logger.String("dir", f.modelDir))
	return nil
}
