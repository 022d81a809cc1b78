package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User is one account row.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

// CreateUser inserts a new account. A duplicate email fails.
func (d *DB) CreateUser(ctx context.Context, u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().UnixMilli()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("email already registered")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByEmail fetches an account by email, or nil when absent.
func (d *DB) UserByEmail(ctx context.Context, email string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u := &User{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// UserEmail returns the email for a user id, or "" when absent.
func (d *DB) UserEmail(ctx context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var email string
	err := d.db.QueryRowContext(ctx,
		`SELECT email FROM users WHERE id = ?`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user email: %w", err)
	}
	return email, nil
}

// SaveToken records an issued token id with its expiry.
func (d *DB) SaveToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_tokens (jti, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		jti, userID, expiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// TokenUser returns the user id for an unexpired token, or "" when the
// token is unknown, revoked or expired.
func (d *DB) TokenUser(ctx context.Context, jti string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var userID string
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_tokens WHERE jti = ? AND expires_at > ?`,
		jti, time.Now().UnixMilli()).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to verify token: %w", err)
	}
	return userID, nil
}

// DeleteToken revokes one token.
func (d *DB) DeleteToken(ctx context.Context, jti string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE jti = ?`, jti)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// CleanupTokens removes expired token rows. Returns the number removed.
func (d *DB) CleanupTokens(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.ExecContext(ctx,
		`DELETE FROM user_tokens WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
