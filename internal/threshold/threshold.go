package threshold

import (
	"errors"
	"fmt"

	"hazard-alert-service/internal/models"
)

// ErrUnknownParameter is returned for parameter kinds without a configured ThresholdSet.
var ErrUnknownParameter = errors.New("no threshold configured for parameter kind")

// Classify returns the highest severity whose inclusive cutoff value has reached,
// or SeverityNone when value is below the low cutoff.
func Classify(value float64, set models.ThresholdSet) models.Severity {
	for i := len(models.AllSeverities) - 1; i >= 0; i-- {
		level := models.AllSeverities[i]
		if value >= set.Cutoff(level) {
			return level
		}
	}
	return models.SeverityNone
}

// Evaluator classifies signals against a table of threshold sets.
type Evaluator struct {
	sets map[string]models.ThresholdSet
}

// NewEvaluator validates every set up front; bad configuration is a load-time error.
func NewEvaluator(sets map[string]models.ThresholdSet) (*Evaluator, error) {
	copied := make(map[string]models.ThresholdSet, len(sets))
	for kind, set := range sets {
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("thresholds for %s: %w", kind, err)
		}
		copied[kind] = set
	}
	return &Evaluator{sets: copied}, nil
}

// Classify looks up the set for the signal's parameter kind.
func (e *Evaluator) Classify(sig models.Signal) (models.Severity, error) {
	set, ok := e.sets[sig.ParameterKind]
	if !ok {
		return models.SeverityNone, fmt.Errorf("%w: %s", ErrUnknownParameter, sig.ParameterKind)
	}
	return Classify(sig.Value, set), nil
}

// Has reports whether kind has a threshold set.
func (e *Evaluator) Has(kind string) bool {
	_, ok := e.sets[kind]
	return ok
}

// Set returns the threshold set configured for kind.
func (e *Evaluator) Set(kind string) (models.ThresholdSet, bool) {
	set, ok := e.sets[kind]
	return set, ok
}
