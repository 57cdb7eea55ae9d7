// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveIntent stores a payment intent.
func (r *SQLRepository) SaveIntent(ctx context.Context, intent *domain.Intent) error {
	if intent.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	sender, _ := json.Marshal(intent.Sender)
	receiver, _ := json.Marshal(intent.Receiver)
	fields, _ := json.Marshal(intent.AdditionalFields)

	query := `
		INSERT INTO intents (
			transaction_id, payment_type, sender, receiver,
			amount, currency, purpose, scheduled_at,
			created_at, updated_at, status, additional_fields
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		intent.TransactionID, intent.PaymentType,
		string(sender), string(receiver),
		intent.Amount, intent.Currency, intent.Purpose,
		intent.ScheduledAt, intent.CreatedAt, intent.UpdatedAt,
		intent.Status, string(fields),
	)
	return err
}

// GetIntent retrieves an intent by transaction ID.
func (r *SQLRepository) GetIntent(ctx context.Context, txID string) (*domain.Intent, error) {
	query := `
		SELECT transaction_id, payment_type, sender, receiver,
			   amount, currency, purpose, scheduled_at,
			   created_at, updated_at, status, additional_fields
		FROM intents
		WHERE transaction_id = ?
	`

	var intent domain.Intent
	var sender, receiver, fields string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&intent.TransactionID, &intent.PaymentType,
		&sender, &receiver,
		&intent.Amount, &intent.Currency, &intent.Purpose,
		&intent.ScheduledAt, &intent.CreatedAt, &intent.UpdatedAt,
		&intent.Status, &fields,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(sender), &intent.Sender)
	json.Unmarshal([]byte(receiver), &intent.Receiver)
	if fields != "" && fields != "null" {
		json.Unmarshal([]byte(fields), &intent.AdditionalFields)
	}

	return &intent, nil
}

// UpdateIntentStatus advances the intent lifecycle.
func (r *SQLRepository) UpdateIntentStatus(ctx context.Context, txID string, status domain.IntentStatus) error {
	query := `
		UPDATE intents
		SET status = ?, updated_at = ?
		WHERE transaction_id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), txID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPendingIntents returns intents awaiting routing, oldest first.
func (r *SQLRepository) ListPendingIntents(ctx context.Context, limit int) ([]*domain.Intent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT transaction_id, payment_type, sender, receiver,
			   amount, currency, purpose, scheduled_at,
			   created_at, updated_at, status, additional_fields
		FROM intents
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), domain.IntentPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []*domain.Intent
	for rows.Next() {
		var intent domain.Intent
		var sender, receiver, fields string

		if err := rows.Scan(
			&intent.TransactionID, &intent.PaymentType,
			&sender, &receiver,
			&intent.Amount, &intent.Currency, &intent.Purpose,
			&intent.ScheduledAt, &intent.CreatedAt, &intent.UpdatedAt,
			&intent.Status, &fields,
		); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(sender), &intent.Sender)
		json.Unmarshal([]byte(receiver), &intent.Receiver)
		if fields != "" && fields != "null" {
			json.Unmarshal([]byte(fields), &intent.AdditionalFields)
		}

		intents = append(intents, &intent)
	}

	return intents, rows.Err()
}

// SaveComplianceDecision inserts a screening result only when none
// exists for the transaction. An existing row yields
// domain.ErrComplianceExists; callers use DeleteComplianceDecision
// first for explicit overrides.
func (r *SQLRepository) SaveComplianceDecision(ctx context.Context, decision *domain.ComplianceDecision) error {
	if decision.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(decision.ReasonCodes)
	evidence, _ := json.Marshal(decision.EvidenceRefs)

	query := `
		INSERT INTO compliance_decisions (
			transaction_id, decision, policy_version,
			compliance_penalty, risk_score, reason_codes, evidence_refs, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.TransactionID, decision.Decision, decision.PolicyVersion,
		decision.CompliancePenalty, decision.RiskScore,
		string(reasons), string(evidence), decision.CreatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrComplianceExists
	}
	return nil
}

// DeleteComplianceDecision removes a screening result so it can be
// re-recorded. Backs the explicit override path only.
func (r *SQLRepository) DeleteComplianceDecision(ctx context.Context, txID string) error {
	query := `DELETE FROM compliance_decisions WHERE transaction_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), txID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetComplianceDecision retrieves the screening result for a transaction.
func (r *SQLRepository) GetComplianceDecision(ctx context.Context, txID string) (*domain.ComplianceDecision, error) {
	query := `
		SELECT transaction_id, decision, policy_version,
			   compliance_penalty, risk_score, reason_codes, evidence_refs, created_at
		FROM compliance_decisions
		WHERE transaction_id = ?
	`

	var d domain.ComplianceDecision
	var reasons, evidence string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&d.TransactionID, &d.Decision, &d.PolicyVersion,
		&d.CompliancePenalty, &d.RiskScore, &reasons, &evidence, &d.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(reasons), &d.ReasonCodes)
	json.Unmarshal([]byte(evidence), &d.EvidenceRefs)

	return &d, nil
}

// SaveRail upserts a rail configuration keyed by name.
func (r *SQLRepository) SaveRail(ctx context.Context, rail *domain.RailConfig) error {
	if rail.Name == "" {
		return fmt.Errorf("%w: rail name is required", ErrInvalidInput)
	}

	active := 0
	if rail.Active {
		active = 1
	}

	now := time.Now().UTC()
	createdAt := rail.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO rails (
			name, type, active, min_amount, max_amount,
			daily_limit, remaining_amount, cutoff, cost_bps, avg_eta_ms, guard,
			perf_successes, perf_attempts, perf_avg_latency_ms,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			active = excluded.active,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			daily_limit = excluded.daily_limit,
			remaining_amount = excluded.remaining_amount,
			cutoff = excluded.cutoff,
			cost_bps = excluded.cost_bps,
			avg_eta_ms = excluded.avg_eta_ms,
			guard = excluded.guard,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rail.Name, rail.Type, active,
		rail.MinAmount, rail.MaxAmount,
		rail.DailyLimit, rail.RemainingAmount,
		rail.Cutoff, rail.CostBps, rail.AvgETA.Milliseconds(), rail.Guard,
		rail.Performance.Successes, rail.Performance.Attempts,
		rail.Performance.AvgLatency.Milliseconds(),
		createdAt, now,
	)
	return err
}

// GetRail retrieves a rail by name.
func (r *SQLRepository) GetRail(ctx context.Context, name string) (*domain.RailConfig, error) {
	query := railSelect + ` WHERE name = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), name)
	rail, err := scanRail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rail, err
}

// ListRails returns all rails ordered by name.
func (r *SQLRepository) ListRails(ctx context.Context) ([]*domain.RailConfig, error) {
	query := railSelect + ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rails []*domain.RailConfig
	for rows.Next() {
		rail, err := scanRail(rows)
		if err != nil {
			return nil, err
		}
		rails = append(rails, rail)
	}

	return rails, rows.Err()
}

const railSelect = `
	SELECT name, type, active, min_amount, max_amount,
		   daily_limit, remaining_amount, cutoff, cost_bps, avg_eta_ms, guard,
		   perf_successes, perf_attempts, perf_avg_latency_ms,
		   created_at, updated_at
	FROM rails`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRail(row rowScanner) (*domain.RailConfig, error) {
	var rail domain.RailConfig
	var active int
	var etaMs, latencyMs int64

	err := row.Scan(
		&rail.Name, &rail.Type, &active,
		&rail.MinAmount, &rail.MaxAmount,
		&rail.DailyLimit, &rail.RemainingAmount,
		&rail.Cutoff, &rail.CostBps, &etaMs, &rail.Guard,
		&rail.Performance.Successes, &rail.Performance.Attempts, &latencyMs,
		&rail.CreatedAt, &rail.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rail.Active = active == 1
	rail.AvgETA = time.Duration(etaMs) * time.Millisecond
	rail.Performance.AvgLatency = time.Duration(latencyMs) * time.Millisecond
	return &rail, nil
}

// UpdateRailState persists the mutable runtime state of a rail: the
// remaining daily limit and the rolling performance window.
func (r *SQLRepository) UpdateRailState(ctx context.Context, name string, remaining float64, perf domain.PerformanceWindow) error {
	query := `
		UPDATE rails
		SET remaining_amount = ?,
			perf_successes = ?,
			perf_attempts = ?,
			perf_avg_latency_ms = ?,
			updated_at = ?
		WHERE name = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		remaining, perf.Successes, perf.Attempts,
		perf.AvgLatency.Milliseconds(), time.Now().UTC(), name,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveRoutingDecision inserts a decision only when none exists for the
// transaction. An existing row yields domain.ErrDecisionExists; callers
// use DeleteRoutingDecision first for explicit overrides.
func (r *SQLRepository) SaveRoutingDecision(ctx context.Context, decision *domain.RoutingDecision) error {
	if decision.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	fallbacks, _ := json.Marshal(decision.FallbackRails)
	breakdown, _ := json.Marshal(decision.Breakdown)
	weights, _ := json.Marshal(decision.Weights)

	query := `
		INSERT INTO routing_decisions (
			transaction_id, id, primary_rail, primary_score,
			fallback_rails, breakdown, weights,
			execution_status, attempt_count, final_rail, final_status, utr,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.TransactionID, decision.ID,
		decision.PrimaryRail, decision.PrimaryScore,
		string(fallbacks), string(breakdown), string(weights),
		decision.ExecutionStatus, decision.AttemptCount,
		decision.FinalRail, decision.FinalStatus, decision.UTR,
		decision.CreatedAt, decision.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrDecisionExists
	}
	return nil
}

// GetRoutingDecision retrieves the decision for a transaction.
func (r *SQLRepository) GetRoutingDecision(ctx context.Context, txID string) (*domain.RoutingDecision, error) {
	query := `
		SELECT transaction_id, id, primary_rail, primary_score,
			   fallback_rails, breakdown, weights,
			   execution_status, attempt_count, final_rail, final_status, utr,
			   created_at, updated_at
		FROM routing_decisions
		WHERE transaction_id = ?
	`

	var d domain.RoutingDecision
	var fallbacks, breakdown, weights string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&d.TransactionID, &d.ID,
		&d.PrimaryRail, &d.PrimaryScore,
		&fallbacks, &breakdown, &weights,
		&d.ExecutionStatus, &d.AttemptCount,
		&d.FinalRail, &d.FinalStatus, &d.UTR,
		&d.CreatedAt, &d.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(fallbacks), &d.FallbackRails)
	json.Unmarshal([]byte(breakdown), &d.Breakdown)
	json.Unmarshal([]byte(weights), &d.Weights)

	return &d, nil
}

// UpdateExecutionOutcome records the terminal result of executing a
// decision's rail chain.
func (r *SQLRepository) UpdateExecutionOutcome(ctx context.Context, txID string, finalRail string, status domain.ExecutionStatus, utr string, attempts int) error {
	query := `
		UPDATE routing_decisions
		SET execution_status = ?,
			final_status = ?,
			final_rail = ?,
			utr = ?,
			attempt_count = ?,
			updated_at = ?
		WHERE transaction_id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		status, status, finalRail, utr, attempts, time.Now().UTC(), txID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteRoutingDecision removes a decision so it can be re-made. Backs
// the explicit re-route path only.
func (r *SQLRepository) DeleteRoutingDecision(ctx context.Context, txID string) error {
	query := `DELETE FROM routing_decisions WHERE transaction_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), txID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveRailAttempt appends one execution attempt to the history.
func (r *SQLRepository) SaveRailAttempt(ctx context.Context, attempt *domain.RailAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	success := 0
	if attempt.Success {
		success = 1
	}

	query := `
		INSERT INTO rail_attempts (
			id, rail_name, transaction_id, success,
			latency_ms, error_code, error_message, attempted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		attempt.ID, attempt.RailName, attempt.TransactionID, success,
		attempt.Latency.Milliseconds(), attempt.ErrorCode, attempt.ErrorMessage,
		attempt.AttemptedAt,
	)
	return err
}

// GetRailStats aggregates attempt history for a rail since a point in time.
func (r *SQLRepository) GetRailStats(ctx context.Context, railName string, since time.Time) (*domain.RailStats, error) {
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(success), 0),
			   COALESCE(AVG(latency_ms), 0)
		FROM rail_attempts
		WHERE rail_name = ? AND attempted_at >= ?
	`

	var attempts, successes int64
	var avgLatencyMs float64

	err := r.db.QueryRowContext(ctx, r.rebind(query), railName, since).Scan(
		&attempts, &successes, &avgLatencyMs,
	)
	if err != nil {
		return nil, err
	}

	stats := &domain.RailStats{
		RailName:   railName,
		Attempts:   attempts,
		Successes:  successes,
		AvgLatency: time.Duration(avgLatencyMs) * time.Millisecond,
	}
	if attempts > 0 {
		stats.SuccessRate = float64(successes) / float64(attempts)
	}
	return stats, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
