package domain

import (
	"fmt"
	"math"
)

// ScoringWeights are the five factor weights of the scoring formula.
// Each must be non-negative; Normalized scales them to sum to 1.0.
type ScoringWeights struct {
	ETA        float64 `json:"eta"`
	Cost       float64 `json:"cost"`
	Success    float64 `json:"success"`
	Compliance float64 `json:"compliance"`
	Risk       float64 `json:"risk"`
}

// DefaultWeights returns the process-wide default scoring weights.
func DefaultWeights() ScoringWeights {
	return ScoringWeights{
		ETA:        0.25,
		Cost:       0.20,
		Success:    0.30,
		Compliance: 0.15,
		Risk:       0.10,
	}
}

// Validate rejects negative weights and all-zero weight sets.
func (w ScoringWeights) Validate() error {
	for name, v := range map[string]float64{
		"eta": w.ETA, "cost": w.Cost, "success": w.Success,
		"compliance": w.Compliance, "risk": w.Risk,
	} {
		if v < 0 {
			return fmt.Errorf("weight %q must be non-negative, got %v", name, v)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight %q is not a finite number", name)
		}
	}
	if w.Sum() == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}

// Sum returns the sum of all five weights.
func (w ScoringWeights) Sum() float64 {
	return w.ETA + w.Cost + w.Success + w.Compliance + w.Risk
}

// Normalized returns a copy scaled so the weights sum to 1.0.
// Weight sets that already sum to 1.0 are returned unchanged.
func (w ScoringWeights) Normalized() ScoringWeights {
	sum := w.Sum()
	if sum == 0 || sum == 1.0 {
		return w
	}
	return ScoringWeights{
		ETA:        w.ETA / sum,
		Cost:       w.Cost / sum,
		Success:    w.Success / sum,
		Compliance: w.Compliance / sum,
		Risk:       w.Risk / sum,
	}
}
