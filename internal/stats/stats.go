// Package stats maintains per-rail rolling performance statistics.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// DefaultWindow is the rolling window served by Stats queries.
const DefaultWindow = 24 * time.Hour

// Service records execution attempts and serves aggregated views.
// Every recorded attempt both persists the raw history row and folds
// the outcome into the registry's rolling performance window.
type Service struct {
	repo     domain.Repository
	registry *registry.Registry
	window   time.Duration
}

// NewService creates a stats service over the repository and registry.
func NewService(repo domain.Repository, reg *registry.Registry) *Service {
	return &Service{
		repo:     repo,
		registry: reg,
		window:   DefaultWindow,
	}
}

// Record persists one attempt and updates the rail's rolling window.
func (s *Service) Record(ctx context.Context, attempt *domain.RailAttempt) error {
	if attempt.RailName == "" {
		return fmt.Errorf("attempt rail name is required")
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	if err := s.repo.SaveRailAttempt(ctx, attempt); err != nil {
		// History is best-effort; the rolling window must still advance.
		slog.Warn("failed to persist rail attempt",
			"rail", attempt.RailName,
			"tx_id", attempt.TransactionID,
			"error", err,
		)
	}

	return s.registry.RecordOutcome(ctx, attempt.RailName, attempt.Success, attempt.Latency)
}

// Stats returns the aggregated performance view for a rail over the
// configured window.
func (s *Service) Stats(ctx context.Context, railName string) (*domain.RailStats, error) {
	since := time.Now().UTC().Add(-s.window)
	stats, err := s.repo.GetRailStats(ctx, railName, since)
	if err != nil {
		return nil, err
	}
	stats.Window = s.window
	return stats, nil
}
