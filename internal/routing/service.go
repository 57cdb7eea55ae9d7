package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// Service runs the filter → score → persist pipeline for one
// transaction at a time per transaction id. Different transaction ids
// proceed concurrently.
type Service struct {
	repo     domain.Repository
	registry *registry.Registry
	filter   *Filter
	scorer   *Scorer
	cache    domain.Cache
	bus      domain.EventBus

	defaultWeights domain.ScoringWeights
	cacheTTL       time.Duration

	mu    sync.Mutex
	locks map[string]*txLock
}

// txLock is a refcounted per-transaction mutex. Entries leave the lock
// table as soon as the last holder releases, so the table stays
// proportional to in-flight transactions rather than all seen ids.
type txLock struct {
	sync.Mutex
	refs int
}

// NewService wires the routing pipeline. Cache and bus may be nil.
func NewService(repo domain.Repository, reg *registry.Registry, filter *Filter, scorer *Scorer, cache domain.Cache, bus domain.EventBus, cfg domain.RoutingConfig) *Service {
	weights := cfg.DefaultWeights
	if weights.Sum() == 0 {
		weights = domain.DefaultWeights()
	}
	return &Service{
		repo:           repo,
		registry:       reg,
		filter:         filter,
		scorer:         scorer,
		cache:          cache,
		bus:            bus,
		defaultWeights: weights,
		cacheTTL:       cfg.DecisionCacheTTL,
		locks:          make(map[string]*txLock),
	}
}

// Decide produces (or returns the already-persisted) routing decision
// for a transaction. Custom weights apply only to a fresh computation;
// a stored decision is returned as-is. force invalidates any existing
// decision first.
func (s *Service) Decide(ctx context.Context, txID string, customWeights *domain.ScoringWeights, force bool) (*domain.RoutingDecision, error) {
	lock := s.acquireTx(txID)
	defer s.releaseTx(txID, lock)

	if force {
		if err := s.repo.DeleteRoutingDecision(ctx, txID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to invalidate decision for %s: %w", txID, err)
		}
		if s.cache != nil {
			_ = s.cache.Delete(ctx, decisionKey(txID))
		}
	} else if existing, err := s.lookup(ctx, txID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	intent, err := s.repo.GetIntent(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("intent %s: %w", txID, err)
	}
	compliance, err := s.repo.GetComplianceDecision(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("compliance decision %s: %w", txID, err)
	}

	if err := s.repo.UpdateIntentStatus(ctx, txID, domain.IntentProcessing); err != nil {
		slog.Warn("failed to mark intent processing", "tx_id", txID, "error", err)
	}

	weights := s.defaultWeights
	if customWeights != nil {
		weights = *customWeights
	}

	candidates := s.registry.ActiveRails()
	eligible, rejected := s.filter.Filter(intent, compliance, candidates)

	scored, err := s.scorer.Score(compliance, eligible, rejected, weights)
	if err != nil {
		return nil, err
	}

	decision := buildDecision(txID, scored, weights.Normalized())

	if err := s.repo.SaveRoutingDecision(ctx, decision); err != nil {
		if errors.Is(err, domain.ErrDecisionExists) {
			// Lost a race against another writer; the stored decision wins.
			return s.lookup(ctx, txID)
		}
		return nil, fmt.Errorf("failed to persist decision for %s: %w", txID, err)
	}

	s.cacheDecision(ctx, decision)
	s.publishDecision(ctx, decision)

	slog.Info("routing decision created",
		"tx_id", txID,
		"primary_rail", decision.PrimaryRail,
		"primary_score", decision.PrimaryScore,
		"fallbacks", len(decision.FallbackRails),
	)

	return decision, nil
}

// Get returns the stored decision for a transaction, reading through
// the cache when one is configured.
func (s *Service) Get(ctx context.Context, txID string) (*domain.RoutingDecision, error) {
	return s.lookup(ctx, txID)
}

func (s *Service) lookup(ctx context.Context, txID string) (*domain.RoutingDecision, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetDecision(ctx, txID); err == nil && cached != nil {
			return cached, nil
		}
	}
	decision, err := s.repo.GetRoutingDecision(ctx, txID)
	if err != nil {
		return nil, err
	}
	s.cacheDecision(ctx, decision)
	return decision, nil
}

func (s *Service) cacheDecision(ctx context.Context, decision *domain.RoutingDecision) {
	if s.cache == nil {
		return
	}
	ttl := s.cacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if err := s.cache.SetDecision(ctx, decision.TransactionID, decision, ttl); err != nil {
		slog.Warn("failed to cache decision", "tx_id", decision.TransactionID, "error", err)
	}
}

func (s *Service) publishDecision(ctx context.Context, decision *domain.RoutingDecision) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(decision)
	if err := s.bus.Publish(ctx, domain.TopicDecisionCreated, payload); err != nil {
		slog.Warn("failed to publish decision event", "tx_id", decision.TransactionID, "error", err)
	}
}

func (s *Service) acquireTx(txID string) *txLock {
	s.mu.Lock()
	lock, ok := s.locks[txID]
	if !ok {
		lock = &txLock{}
		s.locks[txID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return lock
}

func (s *Service) releaseTx(txID string, lock *txLock) {
	lock.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, txID)
	}
	s.mu.Unlock()
}

func buildDecision(txID string, scored []domain.ScoredRail, weights domain.ScoringWeights) *domain.RoutingDecision {
	now := time.Now().UTC()

	fallbacks := make([]domain.FallbackRail, 0, len(scored)-1)
	breakdown := make([]domain.RailBreakdown, 0, len(scored))
	for i, sr := range scored {
		breakdown = append(breakdown, sr.Breakdown)
		if i > 0 {
			fallbacks = append(fallbacks, domain.FallbackRail{RailName: sr.RailName, Score: sr.Score})
		}
	}

	return &domain.RoutingDecision{
		ID:              uuid.New().String(),
		TransactionID:   txID,
		PrimaryRail:     scored[0].RailName,
		PrimaryScore:    scored[0].Score,
		FallbackRails:   fallbacks,
		Breakdown:       breakdown,
		Weights:         weights,
		ExecutionStatus: domain.ExecutionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func decisionKey(txID string) string {
	return "decision:" + txID
}
