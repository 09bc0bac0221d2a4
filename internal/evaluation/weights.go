package evaluation

import (
	"fmt"
	"math"
	"sort"

	"github.com/ongoingai/agenteval/internal/evaluators"
)

// DefaultWeights returns the built-in category weights. They sum to 1.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		evaluators.Functional:    0.20,
		evaluators.Reasoning:     0.15,
		evaluators.ToolUsage:     0.15,
		evaluators.OutputQuality: 0.20,
		evaluators.Performance:   0.15,
		evaluators.Safety:        0.15,
	}
}

// WeightError reports an invalid weight configuration.
type WeightError struct {
	Category string
	Value    float64
	Reason   string
}

func (e *WeightError) Error() string {
	return fmt.Sprintf("evaluation weight %q=%v: %s", e.Category, e.Value, e.Reason)
}

// ValidateWeights checks that every key is a known category and every value
// lies in [0,1]. Keys are checked in sorted order so the error is stable.
func ValidateWeights(weights map[string]float64) error {
	known := make(map[string]struct{})
	for _, name := range evaluators.Categories() {
		known[name] = struct{}{}
	}
	keys := make([]string, 0, len(weights))
	for key := range weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := weights[key]
		if _, ok := known[key]; !ok {
			return &WeightError{Category: key, Value: value, Reason: "unknown category"}
		}
		if math.IsNaN(value) || value < 0 || value > 1 {
			return &WeightError{Category: key, Value: value, Reason: "must be between 0 and 1"}
		}
	}
	return nil
}

// ResolveWeights validates overrides and merges them over the defaults.
func ResolveWeights(overrides map[string]float64) (map[string]float64, error) {
	if err := ValidateWeights(overrides); err != nil {
		return nil, err
	}
	weights := DefaultWeights()
	for key, value := range overrides {
		weights[key] = value
	}
	return weights, nil
}

func weightSum(weights map[string]float64) float64 {
	sum := 0.0
	for _, value := range weights {
		sum += value
	}
	return sum
}
