package analytics

import (
	"FinGuard/internal/services/ml"
	"FinGuard/pkg/logger"
)

// DecisionThreshold is the mean ensemble probability above which a row is
// labelled anomalous.
const DecisionThreshold = 0.3

// Scores is the ensemble output for one scaled matrix.
type Scores struct {
	Labels        []int
	Mean          []float64
	Predictions   map[string][]int
	Probabilities map[string][]float64
}

// Indices returns the positions labelled 1, ascending.
func (s *Scores) Indices() []int {
	out := make([]int, 0)
	for i, l := range s.Labels {
		if l == 1 {
			out = append(out, i)
		}
	}
	return out
}

type Ensemble struct {
	registry  *ml.Registry
	log       *logger.Logger
	onFailure ml.FailureHook
}

func NewEnsemble(registry *ml.Registry, log *logger.Logger, onFailure ml.FailureHook) *Ensemble {
	if log == nil {
		log = logger.Nop()
	}
	return &Ensemble{registry: registry, log: log, onFailure: onFailure}
}

// Score runs every slot over X and averages their probabilities. A slot that
// fails to predict contributes zero vectors.
func (e *Ensemble) Score(X [][]float64) *Scores {
	n := len(X)
	s := &Scores{
		Labels:        make([]int, n),
		Mean:          make([]float64, n),
		Predictions:   make(map[string][]int, len(ml.SlotNames)),
		Probabilities: make(map[string][]float64, len(ml.SlotNames)),
	}

	slots := e.registry.Slots()
	for _, slot := range slots {
		labels, proba, err := predictSlot(slot.Model, X)
		if err != nil {
			e.log.Error("model prediction failed", logger.String("slot", string(slot.Name)), logger.Error(err))
			if e.onFailure != nil {
				e.onFailure(slot.Name, "predict", err)
			}
			labels, proba = make([]int, n), make([]float64, n)
		}
		s.Predictions[string(slot.Name)] = labels
		s.Probabilities[string(slot.Name)] = proba
		for i, p := range proba {
			s.Mean[i] += p
		}
	}

	for i := range s.Mean {
		if len(slots) > 0 {
			s.Mean[i] /= float64(len(slots))
		}
		if s.Mean[i] > DecisionThreshold {
			s.Labels[i] = 1
		}
	}
	return s
}

func predictSlot(c ml.Classifier, X [][]float64) (labels []int, proba []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()

	labels, err = c.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	proba, err = ml.PredictProba(c, X)
	if err != nil {
		return nil, nil, err
	}
	if len(labels) != len(X) || len(proba) != len(X) {
		return nil, nil, errShape
	}
	return labels, proba, nil
}

// emptyScores is the ensemble output for a zero-row input.
func emptyScores() *Scores {
	s := &Scores{
		Labels:        []int{},
		Mean:          []float64{},
		Predictions:   make(map[string][]int, len(ml.SlotNames)),
		Probabilities: make(map[string][]float64, len(ml.SlotNames)),
	}
	for _, name := range ml.SlotNames {
		s.Predictions[string(name)] = []int{}
		s.Probabilities[string(name)] = []float64{}
	}
	return s
}
