package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/model"
)

// DB is the multi-tenant SQLite backend. The tenant string is a user id;
// each user's StateStore lives in one row of user_state, upserted whole.
// It also holds the users, user_tokens and system_settings tables.
type DB struct {
	db      *sql.DB
	baseDir string
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// OpenDB opens (or creates) the SQLite database and runs migrations.
// baseDir is where per-user PRD mirror files are written.
func OpenDB(dbPath, baseDir string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db, baseDir: baseDir, logger: logger.With().Str("component", "dbstore").Logger()}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	d.logger.Info().Str("path", dbPath).Msg("database store initialized")
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Load reads the user's state row. A missing row yields an empty store.
func (d *DB) Load(ctx context.Context, tenant string) (*model.StateStore, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var raw string
	err := d.db.QueryRowContext(ctx,
		`SELECT state_json FROM user_state WHERE user_id = ?`, tenant).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.NewStateStore(), nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state for user %s", tenant)
	}

	s := model.NewStateStore()
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "decode state for user %s", tenant)
	}
	s.Normalize()
	s.MigrateIdeaEvents()
	return s, nil
}

// Save upserts the user's state row, replacing the whole document.
func (d *DB) Save(ctx context.Context, tenant string, s *model.StateStore) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "encode state for user %s", tenant)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO user_state (user_id, state_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		tenant, string(payload), time.Now().UnixMilli())
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "save state for user %s", tenant)
	}
	return nil
}

// WritePRD mirrors a PRD version to <baseDir>/<user>/prd/<project>/v<N>.md.
func (d *DB) WritePRD(tenant, projectID string, version int, content string) (string, error) {
	dir := filepath.Join(d.baseDir, tenant, "prd", projectID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "create prd dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("v%d.md", version))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "write prd file %s", path)
	}
	return path, nil
}
