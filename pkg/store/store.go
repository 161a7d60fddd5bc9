// Package store persists accounts, settings and the audit trail in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"croft/pkg/protocol"

	_ "modernc.org/sqlite"
)

// Store wraps the supervisor database. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New applies the schema to db and wraps it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// openDB opens a SQLite database at path and enforces WAL journal mode and
// a 5-second busy timeout, pinging first so a bad path fails here.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Accounts lists every account ordered by creation.
func (s *Store) Accounts(ctx context.Context) ([]protocol.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, code, platform FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.Account
	for rows.Next() {
		var a protocol.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Code, &a.Platform); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

// Account returns the account id, or protocol.ErrAccountNotFound.
func (s *Store) Account(ctx context.Context, id string) (protocol.Account, error) {
	var a protocol.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, code, platform FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Code, &a.Platform)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Account{}, fmt.Errorf("account %s: %w", id, protocol.ErrAccountNotFound)
	}
	if err != nil {
		return protocol.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// SaveAccount inserts a or replaces the stored fields of an existing account.
func (s *Store) SaveAccount(ctx context.Context, a protocol.Account) error {
	if a.Platform == "" {
		a.Platform = protocol.PlatformQQ
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, code, platform) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			platform = excluded.platform,
			updated_at = datetime('now')`,
		a.ID, a.Name, a.Code, string(a.Platform))
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAccount removes the account id. Deleting a missing account returns
// protocol.ErrAccountNotFound.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %s: %w", id, protocol.ErrAccountNotFound)
	}
	return nil
}

// Settings keys, one row each.
const (
	keyAutomation = "automation"
	keyStrategy   = "planting_strategy"
	keySeed       = "preferred_seed_id"
	keyIntervals  = "intervals"
	keyQuietHours = "friend_quiet_hours"
)

// Settings loads the persisted settings. Keys never written keep their
// defaults.
func (s *Store) Settings(ctx context.Context) (protocol.Settings, error) {
	cfg := protocol.DefaultSettings()
	targets := map[string]any{
		keyAutomation: &cfg.Automation,
		keyStrategy:   &cfg.PlantingStrategy,
		keySeed:       &cfg.PreferredSeedID,
		keyIntervals:  &cfg.Intervals,
		keyQuietHours: &cfg.FriendQuietHours,
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return cfg, fmt.Errorf("load settings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return cfg, fmt.Errorf("scan setting: %w", err)
		}
		target, ok := targets[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(value), target); err != nil {
			return cfg, fmt.Errorf("decode setting %s: %w", key, err)
		}
	}
	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("load settings: %w", err)
	}
	return cfg, nil
}

// SaveSettings writes every settings key in one transaction.
func (s *Store) SaveSettings(ctx context.Context, cfg protocol.Settings) error {
	values := []struct {
		key string
		v   any
	}{
		{keyAutomation, cfg.Automation},
		{keyStrategy, cfg.PlantingStrategy},
		{keySeed, cfg.PreferredSeedID},
		{keyIntervals, cfg.Intervals},
		{keyQuietHours, cfg.FriendQuietHours},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, kv := range values {
		data, err := json.Marshal(kv.v)
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", kv.key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
			kv.key, string(data)); err != nil {
			return fmt.Errorf("save setting %s: %w", kv.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// AppendAudit records e. A zero Time is set to now.
func (s *Store) AppendAudit(ctx context.Context, e protocol.AuditEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	var extra sql.NullString
	if len(e.Extra) > 0 {
		data, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("encode audit extra: %w", err)
		}
		extra = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (action, msg, account_id, account_name, extra, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Action), e.Msg, e.AccountID, e.AccountName, extra, e.Time.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append audit %s: %w", e.Action, err)
	}
	return nil
}

// Audit returns up to limit entries, newest first, optionally restricted to
// one account.
func (s *Store) Audit(ctx context.Context, accountID string, limit int) ([]protocol.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT action, msg, account_id, account_name, extra, created_at FROM audit_events`
	args := []any{}
	if accountID != "" {
		q += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.AuditEntry
	for rows.Next() {
		var (
			e                  protocol.AuditEntry
			action, created    string
			accID, accName, ex sql.NullString
		)
		if err := rows.Scan(&action, &e.Msg, &accID, &accName, &ex, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Action = protocol.AuditAction(action)
		e.AccountID, e.AccountName = accID.String, accName.String
		if ex.Valid && ex.String != "" {
			if err := json.Unmarshal([]byte(ex.String), &e.Extra); err != nil {
				return nil, fmt.Errorf("decode audit extra: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.Time = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}
