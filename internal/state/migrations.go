package state

import (
	"fmt"
)

func (d *DB) migrate() error {
	return d.migrateV1()
}

func (d *DB) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE TABLE IF NOT EXISTS user_tokens (
		jti        TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tokens_user ON user_tokens(user_id);
	CREATE INDEX IF NOT EXISTS idx_tokens_expires ON user_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS user_state (
		user_id    TEXT PRIMARY KEY REFERENCES users(id),
		state_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_settings (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		description TEXT,
		updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}
