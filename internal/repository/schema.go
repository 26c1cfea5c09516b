package repository

// Schema definitions for the Shrike database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    lat REAL,
    lon REAL,
    location_label TEXT,
    has_coords INTEGER NOT NULL DEFAULT 0,
    payment_method TEXT NOT NULL,
    device_fingerprint TEXT,
    merchant_id TEXT,
    ip TEXT,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id);
`

// The tx_id primary key makes audit writes idempotent: re-emitting a verdict
// for an already-audited transaction is a no-op.
const schemaAuditRecords = `
CREATE TABLE IF NOT EXISTS audit_records (
    tx_id TEXT PRIMARY KEY,
    verdict_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    score REAL NOT NULL,
    decision TEXT NOT NULL,
    signals TEXT NOT NULL,
    decided_at TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_records(decision, decided_at);
`

const schemaMerchantRisk = `
CREATE TABLE IF NOT EXISTS merchant_risk (
    merchant_id TEXT PRIMARY KEY,
    score REAL NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAuditRecords,
		schemaMerchantRisk,
	}
}
