// Package postgres implements identity.Store on PostgreSQL via sqlx.
// All queries are parameter-bound; schema bootstrap is idempotent.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/feedrlabs/identity"
)

// Store satisfies identity.Store. Safe for concurrent use; it owns no
// state beyond the connection pool.
type Store struct {
	db *sqlx.DB
}

// New wraps an existing connection pool. The caller keeps ownership of
// db; Close is a no-op path for pools created through Open.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects, configures the pool, verifies the connection and runs
// the schema bootstrap.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", identity.ErrStoreUnavailable)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		phone VARCHAR(50) NOT NULL DEFAULT '',
		totp_secret VARCHAR(255) NOT NULL DEFAULT '',
		totp_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		sms_mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		email_mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until TIMESTAMPTZ,
		force_password_reset BOOLEAN NOT NULL DEFAULT FALSE,
		password_changed_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS password_history (
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token_hash VARCHAR(64) PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		rotated_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		token_hash VARCHAR(64) NOT NULL UNIQUE,
		device TEXT NOT NULL DEFAULT '',
		ip VARCHAR(64) NOT NULL DEFAULT '',
		location VARCHAR(255) NOT NULL DEFAULT '',
		last_active_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trusted_devices (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		fingerprint VARCHAR(64) NOT NULL,
		device TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(account_id, fingerprint)
	)`,

	`CREATE TABLE IF NOT EXISTS backup_codes (
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		code_hash VARCHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY(account_id, code_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS recovery_codes (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		code_hash VARCHAR(64) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(account_id, code_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS login_attempts (
		id UUID PRIMARY KEY,
		account_id UUID REFERENCES accounts(id) ON DELETE SET NULL,
		email VARCHAR(255) NOT NULL,
		success BOOLEAN NOT NULL,
		failure_reason VARCHAR(64) NOT NULL DEFAULT '',
		ip VARCHAR(64) NOT NULL DEFAULT '',
		device VARCHAR(64) NOT NULL DEFAULT '',
		location VARCHAR(255) NOT NULL DEFAULT '',
		suspicious BOOLEAN NOT NULL DEFAULT FALSE,
		suspicion_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		actor_id UUID NOT NULL,
		actor_username VARCHAR(50) NOT NULL,
		action VARCHAR(64) NOT NULL,
		target_type VARCHAR(32) NOT NULL,
		target_id VARCHAR(64) NOT NULL,
		target_label VARCHAR(255) NOT NULL DEFAULT '',
		detail JSONB,
		ip VARCHAR(64) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_password_history_account ON password_history(account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_password_history_created ON password_history(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_account ON refresh_tokens(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_rotated ON refresh_tokens(rotated_at) WHERE rotated_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trusted_devices_account ON trusted_devices(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trusted_devices_expires ON trusted_devices(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_recovery_codes_expires ON recovery_codes(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_login_attempts_email ON login_attempts(email, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_login_attempts_account ON login_attempts(account_id) WHERE success`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_target ON audit_log(target_type, target_id, created_at)`,
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mustAffect converts a zero-row write into the given sentinel.
func mustAffect(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
