package protocol

// SchemaDDL defines the SQLite schema for the supervisor's store.
// Tables: accounts, settings, audit_events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Managed game accounts
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    code TEXT NOT NULL,
    platform TEXT NOT NULL DEFAULT 'qq',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Global settings, one JSON value per field
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Account lifecycle audit trail (auto-deletion, add, remove)
CREATE TABLE IF NOT EXISTS audit_events (
    id INTEGER PRIMARY KEY,
    action TEXT NOT NULL,
    msg TEXT NOT NULL,
    account_id TEXT,
    account_name TEXT,
    extra TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS audit_events_account ON audit_events(account_id);
`
