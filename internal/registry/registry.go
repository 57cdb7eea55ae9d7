// Package registry holds the live rail configuration and daily-limit state.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry is the authoritative in-memory view of rail state, loaded
// from the repository at startup and written through on every mutation.
// Limit decrements are serialized per rail; there is no global lock.
type Registry struct {
	mu    sync.RWMutex // guards the rails map itself
	rails map[string]*railEntry
	repo  domain.Repository
}

type railEntry struct {
	mu   sync.Mutex // serializes limit/performance mutation for one rail
	rail *domain.RailConfig
}

// New creates a registry backed by the given repository.
func New(repo domain.Repository) *Registry {
	return &Registry{
		rails: make(map[string]*railEntry),
		repo:  repo,
	}
}

// Load replaces the in-memory rail set from the repository.
func (r *Registry) Load(ctx context.Context) error {
	rails, err := r.repo.ListRails(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rails: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rails = make(map[string]*railEntry, len(rails))
	for _, rail := range rails {
		r.rails[rail.Name] = &railEntry{rail: rail}
	}
	return nil
}

// Register adds or replaces a rail, persisting it.
func (r *Registry) Register(ctx context.Context, rail *domain.RailConfig) error {
	if rail.Name == "" {
		return fmt.Errorf("rail name is required")
	}
	if rail.RemainingAmount == 0 && rail.DailyLimit > 0 {
		rail.RemainingAmount = rail.DailyLimit
	}
	if err := r.repo.SaveRail(ctx, rail); err != nil {
		return fmt.Errorf("failed to persist rail %s: %w", rail.Name, err)
	}

	r.mu.Lock()
	r.rails[rail.Name] = &railEntry{rail: rail}
	r.mu.Unlock()

	return nil
}

// ActiveRails returns a stable, name-ordered snapshot of active rails.
func (r *Registry) ActiveRails() []*domain.RailConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.RailConfig, 0, len(r.rails))
	for _, entry := range r.rails {
		entry.mu.Lock()
		if entry.rail.Active {
			c := *entry.rail
			out = append(out, &c)
		}
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllRails returns a snapshot of every rail, active or not.
func (r *Registry) AllRails() []*domain.RailConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.RailConfig, 0, len(r.rails))
	for _, entry := range r.rails {
		entry.mu.Lock()
		c := *entry.rail
		out = append(out, &c)
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rail returns a copy of the named rail or ErrNotFound.
func (r *Registry) Rail(name string) (*domain.RailConfig, error) {
	entry, err := r.entry(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	c := *entry.rail
	return &c, nil
}

// DecrementRemaining atomically debits the rail's remaining daily limit.
// The debit is all-or-nothing: if the amount exceeds what is left, the
// state is untouched and ErrInsufficientLimit is returned.
func (r *Registry) DecrementRemaining(ctx context.Context, name string, amount float64) (*domain.RailConfig, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("decrement amount must be positive, got %v", amount)
	}

	entry, err := r.entry(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.rail.RemainingAmount < amount {
		return nil, fmt.Errorf("rail %s remaining %v < amount %v: %w",
			name, entry.rail.RemainingAmount, amount, domain.ErrInsufficientLimit)
	}

	entry.rail.RemainingAmount -= amount
	entry.rail.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, entry); err != nil {
		// Roll the debit back so memory and storage stay consistent.
		entry.rail.RemainingAmount += amount
		return nil, err
	}

	c := *entry.rail
	return &c, nil
}

// SetRemaining overrides the remaining daily limit (administrative).
func (r *Registry) SetRemaining(ctx context.Context, name string, remaining float64) (*domain.RailConfig, error) {
	if remaining < 0 {
		return nil, fmt.Errorf("remaining amount must be non-negative, got %v", remaining)
	}

	entry, err := r.entry(name)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	prev := entry.rail.RemainingAmount
	entry.rail.RemainingAmount = remaining
	entry.rail.UpdatedAt = time.Now().UTC()

	if err := r.persist(ctx, entry); err != nil {
		entry.rail.RemainingAmount = prev
		return nil, err
	}

	c := *entry.rail
	return &c, nil
}

// RecordOutcome folds one execution attempt into the rail's rolling
// performance window. Successes increment numerator and denominator;
// failures only the denominator.
func (r *Registry) RecordOutcome(ctx context.Context, name string, success bool, latency time.Duration) error {
	entry, err := r.entry(name)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	perf := &entry.rail.Performance
	perf.Attempts++
	if success {
		perf.Successes++
	}
	// Cumulative moving average over the window.
	if perf.Attempts == 1 {
		perf.AvgLatency = latency
	} else {
		perf.AvgLatency += (latency - perf.AvgLatency) / time.Duration(perf.Attempts)
	}
	entry.rail.UpdatedAt = time.Now().UTC()

	return r.persist(ctx, entry)
}

// ResetDailyLimits restores every rail's remaining amount to its daily
// limit. Invoked by the external limit-reset process.
func (r *Registry) ResetDailyLimits(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*railEntry, 0, len(r.rails))
	for _, entry := range r.rails {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.rail.RemainingAmount = entry.rail.DailyLimit
		entry.rail.UpdatedAt = time.Now().UTC()
		err := r.persist(ctx, entry)
		entry.mu.Unlock()
		if err != nil {
			return err
		}
	}

	slog.Info("daily limits reset", "rails", len(entries))
	return nil
}

func (r *Registry) entry(name string) (*railEntry, error) {
	r.mu.RLock()
	entry, ok := r.rails[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rail %s: %w", name, domain.ErrNotFound)
	}
	return entry, nil
}

// persist writes the entry's mutable state through to the repository.
// Caller must hold entry.mu.
func (r *Registry) persist(ctx context.Context, entry *railEntry) error {
	if err := r.repo.UpdateRailState(ctx, entry.rail.Name, entry.rail.RemainingAmount, entry.rail.Performance); err != nil {
		return fmt.Errorf("failed to persist rail %s state: %w", entry.rail.Name, err)
	}
	return nil
}
