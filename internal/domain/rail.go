package domain

import "time"

// RailType classifies the settlement behavior of a rail.
type RailType string

const (
	RailInstant  RailType = "INSTANT"
	RailBatch    RailType = "BATCH"
	RailRealtime RailType = "REALTIME"
)

// RailConfig describes a payment rail and its mutable daily state.
// RemainingAmount and Performance are mutated by the executor; everything
// else only changes through administrative updates.
type RailConfig struct {
	Name   string   `json:"name"`
	Type   RailType `json:"type"`
	Active bool     `json:"active"`

	// Per-transaction amount bounds.
	MinAmount float64 `json:"minAmount"`
	MaxAmount float64 `json:"maxAmount"`

	// Daily cumulative limit and what is left of it today.
	// RemainingAmount is decremented on every successful execution and
	// reset on a schedule external to this core.
	DailyLimit      float64 `json:"dailyLimit"`
	RemainingAmount float64 `json:"remainingAmount"`

	// Cutoff is the time of day ("HH:MM", 24h) after which the rail can
	// no longer guarantee same-day settlement. Empty means no cutoff.
	Cutoff string `json:"cutoff,omitempty"`

	// Base cost model in basis points and expected time to settle.
	CostBps  float64       `json:"costBps"`
	AvgETA   time.Duration `json:"avgEta"`

	// Guard is an optional CEL expression evaluated during eligibility
	// filtering. Variables: amount, currency, payment_type, sender_bank,
	// receiver_bank, hour. Must return bool.
	Guard string `json:"guard,omitempty"`

	// Rolling performance window, updated after every execution attempt.
	Performance PerformanceWindow `json:"performance"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PerformanceWindow is the rolling success/latency view of a rail.
type PerformanceWindow struct {
	Successes  int64         `json:"successes"`
	Attempts   int64         `json:"attempts"`
	AvgLatency time.Duration `json:"avgLatency"`
}

// SuccessRate returns the rolling success rate in [0, 1].
// A rail with no history is assumed healthy.
func (w PerformanceWindow) SuccessRate() float64 {
	if w.Attempts == 0 {
		return 1.0
	}
	return float64(w.Successes) / float64(w.Attempts)
}

// CutoffPassed reports whether now is at or past the rail's cutoff
// time of day. A rail without a cutoff never passes it.
func (r *RailConfig) CutoffPassed(now time.Time) bool {
	if r.Cutoff == "" {
		return false
	}
	cutoff, err := time.Parse("15:04", r.Cutoff)
	if err != nil {
		return false
	}
	h, m := now.Hour(), now.Minute()
	return h > cutoff.Hour() || (h == cutoff.Hour() && m >= cutoff.Minute())
}

// RailAttempt records one execution attempt against a rail.
// Persisted for rolling performance statistics.
type RailAttempt struct {
	ID            string        `json:"id"`
	RailName      string        `json:"railName"`
	TransactionID string        `json:"transactionId"`
	Success       bool          `json:"success"`
	Latency       time.Duration `json:"latency"`
	ErrorCode     string        `json:"errorCode,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	AttemptedAt   time.Time     `json:"attemptedAt"`
}

// RailStats is the aggregated performance view served by the API.
type RailStats struct {
	RailName    string        `json:"railName"`
	Attempts    int64         `json:"attempts"`
	Successes   int64         `json:"successes"`
	SuccessRate float64       `json:"successRate"`
	AvgLatency  time.Duration `json:"avgLatency"`
	Window      time.Duration `json:"window"`
}
