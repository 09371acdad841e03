package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    name TEXT NOT NULL,
    amount REAL NOT NULL,
    device_type TEXT NOT NULL,
    ip_address TEXT NOT NULL,
    lat REAL,
    lon REAL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_ip ON transactions(ip_address, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    fraud_probability REAL NOT NULL,
    risk_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    supervised_proba REAL NOT NULL,
    anomaly_score REAL NOT NULL,
    threshold_used REAL NOT NULL,
    flagged INTEGER NOT NULL,
    reasons TEXT NOT NULL,
    graph_flagged INTEGER NOT NULL,
    model_untrained INTEGER NOT NULL DEFAULT 0,
    override_rule TEXT,
    ip_flagged INTEGER NOT NULL DEFAULT 0,
    features TEXT NOT NULL,
    trust_score REAL NOT NULL,
    account_age_days INTEGER NOT NULL,
    model_version TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_account ON assessments(account_id);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(timestamp);
CREATE INDEX IF NOT EXISTS idx_assessments_flagged ON assessments(flagged, timestamp);
`

const schemaFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    transaction_id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    confirmed_fraud INTEGER NOT NULL,
    analyst_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_account ON feedback(account_id);
CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);
`

const schemaOverrideRules = `
CREATE TABLE IF NOT EXISTS override_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_override_rules_enabled ON override_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAssessments,
		schemaFeedback,
		schemaOverrideRules,
	}
}
