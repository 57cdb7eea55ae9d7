// Package executor drives rail execution with ordered fallback.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/railclient"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Executor attempts execution against a decision's primary rail and
// walks the fallback chain on retryable failures. Each rail call is
// wrapped in a per-rail circuit breaker and a per-attempt timeout.
type Executor struct {
	repo     domain.Repository
	registry *registry.Registry
	client   railclient.Client
	stats    *stats.Service
	cache    domain.Cache
	bus      domain.EventBus

	attemptTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	breakCfg domain.ExecutorConfig
}

// New wires the executor. Cache and bus may be nil.
func New(repo domain.Repository, reg *registry.Registry, client railclient.Client, statsSvc *stats.Service, cache domain.Cache, bus domain.EventBus, cfg domain.ExecutorConfig) *Executor {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.BreakerConsecutiveFailures == 0 {
		cfg.BreakerConsecutiveFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	return &Executor{
		repo:           repo,
		registry:       reg,
		client:         client,
		stats:          statsSvc,
		cache:          cache,
		bus:            bus,
		attemptTimeout: cfg.AttemptTimeout,
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
		breakCfg:       cfg,
	}
}

// Execute runs the stored routing decision for a transaction. With
// forceRail set, only that rail is attempted and the fallback chain is
// skipped; stats and limits update identically.
func (e *Executor) Execute(ctx context.Context, txID string, forceRail string) (*domain.ExecutionResult, error) {
	start := time.Now()

	decision, err := e.repo.GetRoutingDecision(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("routing decision %s: %w", txID, err)
	}
	intent, err := e.repo.GetIntent(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", txID, err)
	}

	chain := e.railChain(decision, forceRail)
	if forceRail != "" {
		if _, err := e.registry.Rail(forceRail); err != nil {
			return nil, fmt.Errorf("force rail %s: %w", forceRail, err)
		}
	}

	// Mark the decision in flight so concurrent readers see the
	// execution has started. Best-effort; recordFinal overwrites it.
	if err := e.repo.UpdateExecutionOutcome(ctx, txID, "", domain.ExecutionAttempting, "", 0); err != nil {
		slog.Warn("failed to mark decision attempting", "tx_id", txID, "error", err)
	}

	result := &domain.ExecutionResult{
		TransactionID: txID,
		Status:        domain.ExecutionFailed,
	}

	for i, railName := range chain {
		attempt := i + 1
		outcome, utr := e.attempt(ctx, intent, txID, railName, attempt)
		result.Attempts = append(result.Attempts, outcome)
		result.AttemptCount = attempt

		switch outcome.Outcome {
		case outcomeSuccess:
			result.Status = domain.ExecutionSuccess
			result.FinalRail = railName
			result.UTR = utr
		case outcomeTerminal:
			// Rail explicitly rejected; stop walking the chain.
		case outcomeRetryable:
			if i < len(chain)-1 {
				slog.Info("falling back to next rail",
					"tx_id", txID,
					"failed_rail", railName,
					"next_rail", chain[i+1],
					"reason", outcome.Reason,
				)
				continue
			}
		}
		break
	}

	result.Duration = time.Since(start)

	if err := e.recordFinal(ctx, txID, result); err != nil {
		return nil, err
	}
	return result, nil
}

const (
	outcomeSuccess   = "success"
	outcomeRetryable = "retryable"
	outcomeTerminal  = "terminal"
)

// attempt performs one rail call plus, on success, the limit debit.
// A debit lost to a concurrent execution surfaces as a retryable
// failure so the chain advances.
func (e *Executor) attempt(ctx context.Context, intent *domain.Intent, txID, railName string, attempt int) (domain.AttemptOutcome, string) {
	started := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	resp, err := e.call(attemptCtx, &railclient.Request{
		TransactionID: txID,
		RailName:      railName,
		Intent:        intent,
		Attempt:       attempt,
	})
	latency := time.Since(started)

	if err == nil {
		// Settle the debit; losing the limit race turns this success
		// into a retryable failure.
		if _, derr := e.registry.DecrementRemaining(ctx, railName, intent.Amount); derr != nil {
			code := "LIMIT_UPDATE_FAILED"
			if errors.Is(derr, domain.ErrInsufficientLimit) {
				code = "INSUFFICIENT_LIMIT"
			}
			e.record(ctx, txID, railName, false, latency, code, derr.Error())
			return domain.AttemptOutcome{RailName: railName, Outcome: outcomeRetryable, Reason: derr.Error(), Latency: latency}, ""
		}

		e.record(ctx, txID, railName, true, latency, "", "")
		return domain.AttemptOutcome{RailName: railName, Outcome: outcomeSuccess, Latency: latency}, resp.UTR
	}

	code, kind := classify(err)
	e.record(ctx, txID, railName, false, latency, code, err.Error())
	return domain.AttemptOutcome{RailName: railName, Outcome: kind, Reason: err.Error(), Latency: latency}, ""
}

// call runs the client through the rail's circuit breaker.
func (e *Executor) call(ctx context.Context, req *railclient.Request) (*railclient.Response, error) {
	breaker := e.breakerFor(req.RailName)
	out, err := breaker.Execute(func() (interface{}, error) {
		return e.client.Execute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*railclient.Response), nil
}

// classify maps an attempt error to an error code and outcome kind.
// Timeouts and open breakers are retryable; only an explicit rail
// rejection is terminal.
func classify(err error) (code string, kind string) {
	switch {
	case errors.Is(err, domain.ErrTerminalFailure):
		return "RAIL_REJECTED", outcomeTerminal
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT", outcomeRetryable
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "CIRCUIT_OPEN", outcomeRetryable
	case errors.Is(err, domain.ErrRetryableFailure):
		return "RAIL_UNAVAILABLE", outcomeRetryable
	default:
		return "UNKNOWN", outcomeRetryable
	}
}

// attemptCounterWindow bounds the cached per-rail attempt counters.
const attemptCounterWindow = 24 * time.Hour

func (e *Executor) record(ctx context.Context, txID, railName string, success bool, latency time.Duration, code, msg string) {
	if e.cache != nil {
		// Rolling per-rail attempt counter. Best-effort; the durable
		// history row below is the source of truth.
		if _, err := e.cache.IncrementCounter(ctx, "attempts:"+railName, attemptCounterWindow); err != nil {
			slog.Debug("failed to advance attempt counter", "rail", railName, "error", err)
		}
	}
	if e.stats == nil {
		return
	}
	err := e.stats.Record(ctx, &domain.RailAttempt{
		RailName:      railName,
		TransactionID: txID,
		Success:       success,
		Latency:       latency,
		ErrorCode:     code,
		ErrorMessage:  msg,
		AttemptedAt:   time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to record attempt", "rail", railName, "tx_id", txID, "error", err)
	}
}

// recordFinal persists the terminal outcome on the decision and intent
// and publishes the settlement event.
func (e *Executor) recordFinal(ctx context.Context, txID string, result *domain.ExecutionResult) error {
	if err := e.repo.UpdateExecutionOutcome(ctx, txID, result.FinalRail, result.Status, result.UTR, result.AttemptCount); err != nil {
		return fmt.Errorf("failed to persist execution outcome for %s: %w", txID, err)
	}

	intentStatus := domain.IntentFailed
	topic := domain.TopicExecutionFailed
	if result.Status == domain.ExecutionSuccess {
		intentStatus = domain.IntentCompleted
		topic = domain.TopicExecutionSettled
	}
	if err := e.repo.UpdateIntentStatus(ctx, txID, intentStatus); err != nil {
		slog.Warn("failed to update intent status", "tx_id", txID, "error", err)
	}

	if e.cache != nil {
		// The cached decision predates the outcome; drop it.
		_ = e.cache.Delete(ctx, "decision:"+txID)
	}

	if e.bus != nil {
		payload, _ := json.Marshal(result)
		if err := e.bus.Publish(ctx, topic, payload); err != nil {
			slog.Warn("failed to publish execution event", "tx_id", txID, "error", err)
		}
	}

	slog.Info("execution finished",
		"tx_id", txID,
		"status", result.Status,
		"final_rail", result.FinalRail,
		"utr", result.UTR,
		"attempts", result.AttemptCount,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return nil
}

// railChain resolves the attempt order: the forced rail alone, or the
// primary followed by fallbacks in stored rank order.
func (e *Executor) railChain(decision *domain.RoutingDecision, forceRail string) []string {
	if forceRail != "" {
		return []string{forceRail}
	}
	chain := make([]string, 0, 1+len(decision.FallbackRails))
	chain = append(chain, decision.PrimaryRail)
	for _, fb := range decision.FallbackRails {
		chain = append(chain, fb.RailName)
	}
	return chain
}

func (e *Executor) breakerFor(railName string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[railName]; ok {
		return cb
	}

	threshold := e.breakCfg.BreakerConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    railName,
		Timeout: e.breakCfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("rail circuit breaker state changed",
				"rail", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Terminal rejections are rail answers, not rail outages.
			return err == nil || errors.Is(err, domain.ErrTerminalFailure)
		},
	})
	e.breakers[railName] = cb
	return cb
}
