// Package worker provides async intent processing off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/executor"
	"github.com/opensource-finance/kestrel/internal/routing"
)

// Worker routes and optionally executes intents published to the bus.
type Worker struct {
	bus    domain.EventBus
	router *routing.Service
	exec   *executor.Executor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// AutoExecute runs the fallback chain immediately after a
	// decision is made, instead of waiting for an explicit execute
	// call.
	AutoExecute bool
}

// NewWorker creates a new async worker. exec may be nil when execution
// stays caller-driven.
func NewWorker(bus domain.EventBus, router *routing.Service, exec *executor.Executor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		router: router,
		exec:   exec,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to submitted intents.
func (w *Worker) Start(cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicIntentSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processIntent(ctx, msg, cfg.AutoExecute)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicIntentSubmitted,
		"auto_execute", cfg.AutoExecute,
	)
	return nil
}

// IntentMessage is the bus payload announcing a submitted intent.
type IntentMessage struct {
	TransactionID string  `json:"transactionId"`
	PaymentType   string  `json:"paymentType,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	Currency      string  `json:"currency,omitempty"`
}

// processIntent routes one submitted intent through the pipeline.
func (w *Worker) processIntent(ctx context.Context, msg *domain.Message, autoExecute bool) error {
	start := time.Now()

	var intentMsg IntentMessage
	if err := json.Unmarshal(msg.Payload, &intentMsg); err != nil {
		slog.Error("failed to parse intent message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if intentMsg.TransactionID == "" {
		slog.Warn("intent message without transaction id", "message_id", msg.ID)
		return nil
	}

	decision, err := w.router.Decide(ctx, intentMsg.TransactionID, nil, false)
	if err != nil {
		if noElig, ok := domain.IsNoEligibleRails(err); ok {
			slog.Warn("no eligible rails for intent",
				"tx_id", intentMsg.TransactionID,
				"reasons", noElig.Reasons,
			)
			return nil
		}
		slog.Error("routing failed",
			"tx_id", intentMsg.TransactionID,
			"error", err,
		)
		return err
	}

	slog.Info("intent routed",
		"tx_id", intentMsg.TransactionID,
		"primary_rail", decision.PrimaryRail,
		"score", decision.PrimaryScore,
		"fallbacks", len(decision.FallbackRails),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if autoExecute && w.exec != nil {
		if _, err := w.exec.Execute(ctx, intentMsg.TransactionID, ""); err != nil {
			slog.Error("execution failed",
				"tx_id", intentMsg.TransactionID,
				"error", err,
			)
			return err
		}
	}

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
