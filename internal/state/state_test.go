package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celadon-dev/celadon/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenDB(filepath.Join(dir, "celadon.db"), dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFileBackend_LoadMissingReturnsEmpty(t *testing.T) {
	b := NewFileBackend(zerolog.Nop())
	s, err := b.Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, s.Projects)
	assert.Empty(t, s.ConversationTurns)
}

func TestFileBackend_SaveLoadRoundTrip(t *testing.T) {
	b := NewFileBackend(zerolog.Nop())
	dir := t.TempDir()

	s := model.NewStateStore()
	s.Projects["p1"] = &model.Project{ID: "p1", Name: "demo", Status: "ACTIVE"}
	s.Sessions["s1"] = &model.Session{SessionID: "s1", ProjectID: "p1", Stage: model.StageClarifying}
	s.ConversationTurns = append(s.ConversationTurns,
		model.ConversationTurn{SessionID: "s1", Role: "user", Content: "hi"})

	require.NoError(t, b.Save(context.Background(), dir, s))

	loaded, err := b.Load(context.Background(), dir)
	require.NoError(t, err)
	require.Contains(t, loaded.Projects, "p1")
	assert.Equal(t, "demo", loaded.Projects["p1"].Name)
	assert.Equal(t, model.StageClarifying, loaded.Sessions["s1"].Stage)
	require.Len(t, loaded.ConversationTurns, 1)
}

func TestFileBackend_LoadAppliesMigration(t *testing.T) {
	b := NewFileBackend(zerolog.Nop())
	dir := t.TempDir()

	// A legacy document: idea events, no conversation turns.
	legacy := `{
		"projects": {},
		"sessions": {"s1": {"session_id": "s1", "project_id": "p1", "stage": "CLARIFYING", "context_snapshot": ""}},
		"idea_events": [{"event_id": "e1", "session_id": "s1", "user_input": "old idea", "created_at": "2024-01-01T00:00:00Z"}],
		"prd_versions": [], "task_runs": [], "deployment_runs": []
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte(legacy), 0o600))

	loaded, err := b.Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, loaded.ConversationTurns, 1)
	assert.Equal(t, "old idea", loaded.ConversationTurns[0].Content)

	// Save and re-load: the migration must not duplicate the turn.
	require.NoError(t, b.Save(context.Background(), dir, loaded))
	again, err := b.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, again.ConversationTurns, 1)
}

func TestFileBackend_WritePRD(t *testing.T) {
	b := NewFileBackend(zerolog.Nop())
	dir := t.TempDir()

	path, err := b.WritePRD(dir, "p1", 2, "# PRD\n\ncontent")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prd", "p1", "v2.md"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# PRD")
}

func TestOpenDB_CreatesSchema(t *testing.T) {
	db := newTestDB(t)

	tables := []string{"users", "user_tokens", "user_state", "system_settings", "meta"}
	for _, table := range tables {
		var count int
		err := db.db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestDB_LoadMissingReturnsEmpty(t *testing.T) {
	db := newTestDB(t)
	s, err := db.Load(context.Background(), "no-such-user")
	require.NoError(t, err)
	assert.Empty(t, s.Projects)
}

func TestDB_SaveIsUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := model.NewStateStore()
	s.Projects["p1"] = &model.Project{ID: "p1", Name: "one", Status: "ACTIVE"}
	require.NoError(t, db.Save(ctx, "u1", s))

	s.Projects["p1"].Name = "two"
	require.NoError(t, db.Save(ctx, "u1", s))

	loaded, err := db.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "two", loaded.Projects["p1"].Name)
}

func TestDB_TenantsAreIsolated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s1 := model.NewStateStore()
	s1.Projects["p1"] = &model.Project{ID: "p1", Name: "alpha"}
	require.NoError(t, db.Save(ctx, "u1", s1))

	s2, err := db.Load(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, s2.Projects)
}

func TestDB_Settings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetSetting(ctx, "LLM_PLANNER_MODEL")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetSetting(ctx, "LLM_PLANNER_MODEL", "deepseek-chat"))
	require.NoError(t, db.SetSetting(ctx, "LLM_PLANNER_MODEL", "deepseek-reasoner"))

	val, ok, err := db.GetSetting(ctx, "LLM_PLANNER_MODEL")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "deepseek-reasoner", val)

	settings, err := db.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "LLM_PLANNER_MODEL", settings[0].Key)
}

func TestDB_UsersAndTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u := &User{ID: "u1", Email: "a@example.com", PasswordHash: "x"}
	require.NoError(t, db.CreateUser(ctx, u))

	err := db.CreateUser(ctx, &User{ID: "u2", Email: "a@example.com", PasswordHash: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	got, err := db.UserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)

	email, err := db.UserEmail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", email)

	require.NoError(t, db.SaveToken(ctx, "jti-1", "u1", time.Now().Add(time.Hour)))
	uid, err := db.TokenUser(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	require.NoError(t, db.DeleteToken(ctx, "jti-1"))
	uid, err = db.TokenUser(ctx, "jti-1")
	require.NoError(t, err)
	assert.Empty(t, uid)
}

func TestDB_ExpiredTokenRejectedAndCleaned(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, &User{ID: "u1", Email: "b@example.com", PasswordHash: "x"}))
	require.NoError(t, db.SaveToken(ctx, "jti-old", "u1", time.Now().Add(-time.Minute)))

	uid, err := db.TokenUser(ctx, "jti-old")
	require.NoError(t, err)
	assert.Empty(t, uid)

	n, err := db.CleanupTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
