// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Intent operations
	SaveIntent(ctx context.Context, intent *Intent) error
	GetIntent(ctx context.Context, txID string) (*Intent, error)
	UpdateIntentStatus(ctx context.Context, txID string, status IntentStatus) error
	ListPendingIntents(ctx context.Context, limit int) ([]*Intent, error)

	// Compliance decisions. SaveComplianceDecision inserts only when
	// no decision exists for the transaction id and returns
	// ErrComplianceExists otherwise. DeleteComplianceDecision backs
	// the explicit override path.
	SaveComplianceDecision(ctx context.Context, decision *ComplianceDecision) error
	GetComplianceDecision(ctx context.Context, txID string) (*ComplianceDecision, error)
	DeleteComplianceDecision(ctx context.Context, txID string) error

	// Rail configuration
	SaveRail(ctx context.Context, rail *RailConfig) error
	GetRail(ctx context.Context, name string) (*RailConfig, error)
	ListRails(ctx context.Context) ([]*RailConfig, error)
	UpdateRailState(ctx context.Context, name string, remaining float64, perf PerformanceWindow) error

	// Routing decisions. SaveRoutingDecision inserts only when no
	// decision exists for the transaction id and returns
	// ErrDecisionExists otherwise. DeleteRoutingDecision backs the
	// explicit override path.
	SaveRoutingDecision(ctx context.Context, decision *RoutingDecision) error
	GetRoutingDecision(ctx context.Context, txID string) (*RoutingDecision, error)
	UpdateExecutionOutcome(ctx context.Context, txID string, finalRail string, status ExecutionStatus, utr string, attempts int) error
	DeleteRoutingDecision(ctx context.Context, txID string) error

	// Rail attempt history
	SaveRailAttempt(ctx context.Context, attempt *RailAttempt) error
	GetRailStats(ctx context.Context, railName string, since time.Time) (*RailStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
