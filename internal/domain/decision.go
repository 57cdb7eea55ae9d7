package domain

import "time"

// ExecutionStatus tracks rail execution for a decision.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionAttempting ExecutionStatus = "ATTEMPTING"
	ExecutionSuccess    ExecutionStatus = "SUCCESS"
	ExecutionFailed     ExecutionStatus = "FAILED"
)

// RoutingDecision is the persisted outcome of filter + score for one
// transaction. Created by the router, updated in place by the executor,
// never deleted.
type RoutingDecision struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`

	// Primary selection
	PrimaryRail  string  `json:"primaryRail"`
	PrimaryScore float64 `json:"primaryScore"`

	// Fallbacks ordered by descending score, primary excluded.
	FallbackRails []FallbackRail `json:"fallbackRails"`

	// Explainability breakdown per scored rail.
	Breakdown []RailBreakdown `json:"breakdown"`

	// Weights frozen at decision time.
	Weights ScoringWeights `json:"weights"`

	// Execution outcome, filled in by the executor.
	ExecutionStatus ExecutionStatus `json:"executionStatus"`
	AttemptCount    int             `json:"attemptCount"`
	FinalRail       string          `json:"finalRail,omitempty"`
	FinalStatus     ExecutionStatus `json:"finalStatus,omitempty"`
	UTR             string          `json:"utr,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FallbackRail is one entry of the ordered fallback chain.
type FallbackRail struct {
	RailName string  `json:"railName"`
	Score    float64 `json:"score"`
}

// FactorValues holds the five normalized factor values for a rail.
type FactorValues struct {
	ETA        float64 `json:"eta"`
	Cost       float64 `json:"cost"`
	Success    float64 `json:"success"`
	Compliance float64 `json:"compliance"`
	Risk       float64 `json:"risk"`
}

// RailBreakdown decomposes one rail's score for audit and debugging.
type RailBreakdown struct {
	RailName      string       `json:"railName"`
	Score         float64      `json:"score"`
	Factors       FactorValues `json:"factors"`
	Contributions FactorValues `json:"contributions"`
	// TopFactors are the top-3 factor names by absolute weighted
	// contribution, strongest first.
	TopFactors []string `json:"topFactors"`
}

// ScoredRail is a rail with its computed score, as ranked by the
// scoring engine before persistence.
type ScoredRail struct {
	Rail      *RailConfig   `json:"-"`
	RailName  string        `json:"railName"`
	Score     float64       `json:"score"`
	Breakdown RailBreakdown `json:"breakdown"`
}

// ExecutionResult is the terminal outcome of an execute call.
type ExecutionResult struct {
	TransactionID string          `json:"transactionId"`
	FinalRail     string          `json:"finalRail,omitempty"`
	Status        ExecutionStatus `json:"status"`
	UTR           string          `json:"utr,omitempty"`
	AttemptCount  int             `json:"attemptCount"`
	Attempts      []AttemptOutcome `json:"attempts,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// AttemptOutcome summarizes one rail attempt within an execution.
type AttemptOutcome struct {
	RailName  string        `json:"railName"`
	Outcome   string        `json:"outcome"` // "success", "retryable", "terminal"
	Reason    string        `json:"reason,omitempty"`
	Latency   time.Duration `json:"latency"`
}
