package analytics

import (
	"errors"
	"fmt"

	"FinGuard/internal/services/ml"
)

var (
	// ErrScalerBootstrap is fatal for the analysis that triggered bootstrap.
	ErrScalerBootstrap = ml.ErrScalerBootstrap
	// ErrSourceAdapter marks input the source adapters cannot work with.
	ErrSourceAdapter = errors.New("source adapter failed")

	errShape = errors.New("model output length does not match input rows")
)

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("model panicked: %v", p.value) }

func sourceError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSourceAdapter, fmt.Sprintf(format, args...))
}
