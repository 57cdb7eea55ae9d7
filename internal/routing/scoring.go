package routing

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer computes weighted multi-factor scores for eligible rails and
// ranks them. Pure in-memory computation, safe for concurrent use.
type Scorer struct{}

// NewScorer creates a scoring engine.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score ranks the eligible rails by weighted score, descending, ties
// broken by ascending rail name. Weights are normalized to sum to 1.0
// before use. Returns a NoEligibleRailsError carrying the rejection
// reasons when the eligible set is empty.
func (s *Scorer) Score(decision *domain.ComplianceDecision, eligible []*domain.RailConfig, rejected map[string]string, weights domain.ScoringWeights) ([]domain.ScoredRail, error) {
	if len(eligible) == 0 {
		return nil, &domain.NoEligibleRailsError{Reasons: rejected}
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring weights: %w", err)
	}
	w := weights.Normalized()

	// ETA and cost are min-max normalized across the eligible set,
	// inverted so faster and cheaper rails score higher. With a single
	// candidate (or identical values) the factor is neutral at 0.5.
	etas := make([]float64, len(eligible))
	costs := make([]float64, len(eligible))
	for i, rail := range eligible {
		etas[i] = float64(rail.AvgETA)
		costs[i] = rail.CostBps
	}

	scored := make([]domain.ScoredRail, len(eligible))
	for i, rail := range eligible {
		factors := domain.FactorValues{
			ETA:        normalizeLowerBetter(etas[i], etas),
			Cost:       normalizeLowerBetter(costs[i], costs),
			Success:    rail.Performance.SuccessRate(),
			Compliance: 1 - decision.CompliancePenalty/100,
			Risk:       1 - decision.RiskScore/100,
		}
		contributions := domain.FactorValues{
			ETA:        w.ETA * factors.ETA,
			Cost:       w.Cost * factors.Cost,
			Success:    w.Success * factors.Success,
			Compliance: w.Compliance * factors.Compliance,
			Risk:       w.Risk * factors.Risk,
		}
		score := contributions.ETA + contributions.Cost + contributions.Success +
			contributions.Compliance + contributions.Risk

		scored[i] = domain.ScoredRail{
			Rail:     rail,
			RailName: rail.Name,
			Score:    score,
			Breakdown: domain.RailBreakdown{
				RailName:      rail.Name,
				Score:         score,
				Factors:       factors,
				Contributions: contributions,
				TopFactors:    topFactors(contributions, 3),
			},
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].RailName < scored[j].RailName
	})

	return scored, nil
}

// normalizeLowerBetter min-max normalizes value against all, inverted
// so the lowest raw value maps to 1. Equal values map to 0.5.
func normalizeLowerBetter(value float64, all []float64) float64 {
	min, max := all[0], all[0]
	for _, v := range all[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return 0.5
	}
	return (max - value) / (max - min)
}

// topFactors returns the n factor names with the largest absolute
// weighted contribution, strongest first. Ties resolve in the fixed
// factor order for determinism.
func topFactors(c domain.FactorValues, n int) []string {
	type fc struct {
		name  string
		value float64
	}
	factors := []fc{
		{"eta", c.ETA},
		{"cost", c.Cost},
		{"success", c.Success},
		{"compliance", c.Compliance},
		{"risk", c.Risk},
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return abs(factors[i].value) > abs(factors[j].value)
	})
	if n > len(factors) {
		n = len(factors)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = factors[i].name
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
