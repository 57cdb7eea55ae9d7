package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.
// Durations are stored as integer milliseconds.

const schemaIntents = `
CREATE TABLE IF NOT EXISTS intents (
    transaction_id TEXT PRIMARY KEY,
    payment_type TEXT NOT NULL,
    sender TEXT NOT NULL,
    receiver TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    purpose TEXT,
    scheduled_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    additional_fields TEXT
);

CREATE INDEX IF NOT EXISTS idx_intents_status ON intents(status);
CREATE INDEX IF NOT EXISTS idx_intents_created ON intents(created_at);
`

const schemaComplianceDecisions = `
CREATE TABLE IF NOT EXISTS compliance_decisions (
    transaction_id TEXT PRIMARY KEY,
    decision TEXT NOT NULL,
    policy_version TEXT,
    compliance_penalty REAL NOT NULL DEFAULT 0,
    risk_score REAL NOT NULL DEFAULT 0,
    reason_codes TEXT,
    evidence_refs TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaRails = `
CREATE TABLE IF NOT EXISTS rails (
    name TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    min_amount REAL NOT NULL DEFAULT 0,
    max_amount REAL NOT NULL DEFAULT 0,
    daily_limit REAL NOT NULL DEFAULT 0,
    remaining_amount REAL NOT NULL DEFAULT 0,
    cutoff TEXT,
    cost_bps REAL NOT NULL DEFAULT 0,
    avg_eta_ms INTEGER NOT NULL DEFAULT 0,
    guard TEXT,
    perf_successes INTEGER NOT NULL DEFAULT 0,
    perf_attempts INTEGER NOT NULL DEFAULT 0,
    perf_avg_latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rails_active ON rails(active);
`

const schemaRoutingDecisions = `
CREATE TABLE IF NOT EXISTS routing_decisions (
    transaction_id TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    primary_rail TEXT NOT NULL,
    primary_score REAL NOT NULL,
    fallback_rails TEXT NOT NULL,
    breakdown TEXT NOT NULL,
    weights TEXT NOT NULL,
    execution_status TEXT NOT NULL,
    attempt_count INTEGER NOT NULL DEFAULT 0,
    final_rail TEXT,
    final_status TEXT,
    utr TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_routing_decisions_rail ON routing_decisions(primary_rail);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_status ON routing_decisions(execution_status);
`

const schemaRailAttempts = `
CREATE TABLE IF NOT EXISTS rail_attempts (
    id TEXT PRIMARY KEY,
    rail_name TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    success INTEGER NOT NULL,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    error_code TEXT,
    error_message TEXT,
    attempted_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rail_attempts_rail ON rail_attempts(rail_name, attempted_at);
CREATE INDEX IF NOT EXISTS idx_rail_attempts_tx ON rail_attempts(transaction_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaIntents,
		schemaComplianceDecisions,
		schemaRails,
		schemaRoutingDecisions,
		schemaRailAttempts,
	}
}
