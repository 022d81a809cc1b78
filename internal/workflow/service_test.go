package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/engine"
	"github.com/celadon-dev/celadon/internal/llm"
	"github.com/celadon-dev/celadon/internal/model"
	"github.com/celadon-dev/celadon/internal/relay"
	"github.com/celadon-dev/celadon/internal/state"
)

// testEnv bundles a service wired to a file backend, a canned completion
// endpoint, and a canned engine endpoint.
type testEnv struct {
	svc     *Service
	backend *state.FileBackend
	tenant  string

	// reply is returned by the completion endpoint; lastChat captures the
	// request it received.
	reply    string
	lastChat map[string]any
}

func newTestEnv(t *testing.T, engineHandler http.HandlerFunc) *testEnv {
	t.Helper()
	for _, k := range []string{"DEEPSEEK_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY", config.KeyProvider, config.KeyModel} {
		t.Setenv(k, "")
	}
	t.Setenv("LLM_API_KEY", "sk-test")

	env := &testEnv{reply: "Could you clarify the target users?"}
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		env.lastChat = req
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": env.reply}}},
		})
	}))
	t.Cleanup(llmSrv.Close)

	engineURL := ""
	if engineHandler != nil {
		engineSrv := httptest.NewServer(engineHandler)
		t.Cleanup(engineSrv.Close)
		engineURL = engineSrv.URL
	}

	resolver := config.NewResolver(nil, zerolog.Nop())
	gw := engine.NewGateway(resolver, engineURL, filepath.Join(t.TempDir(), "sessions"), zerolog.Nop(),
		engine.WithLLMBaseURL(llmSrv.URL))

	env.backend = state.NewFileBackend(zerolog.Nop())
	env.tenant = t.TempDir()
	env.svc = New(env.backend, gw, relay.New(zerolog.Nop()), nil, t.TempDir(), zerolog.Nop())
	return env
}

func (e *testEnv) load(t *testing.T) *model.StateStore {
	t.Helper()
	st, err := e.backend.Load(context.Background(), e.tenant)
	require.NoError(t, err)
	return st
}

func TestStart(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.svc.Start(ctx, env.tenant, "a todo app with reminders", "")
	require.NoError(t, err)

	assert.Equal(t, "project/session created", res.Message)
	assert.Equal(t, "a-todo-app-with-reminders", res.ProjectName)
	assert.Equal(t, model.StageClarifying, res.Stage)
	assert.Equal(t, env.reply, res.AssistantReply)
	require.Len(t, res.Conversation, 2)
	assert.Equal(t, "user", res.Conversation[0].Role)
	assert.Equal(t, "assistant", res.Conversation[1].Role)

	st := env.load(t)
	require.Contains(t, st.Projects, res.ProjectID)
	require.Contains(t, st.Sessions, res.SessionID)
	assert.Equal(t, "ACTIVE", st.Projects[res.ProjectID].Status)
	assert.Equal(t, "a todo app with reminders", st.Sessions[res.SessionID].ContextSnapshot)
	require.Len(t, st.IdeaEvents, 1)
	assert.Equal(t, res.SessionID, st.IdeaEvents[0].SessionID)
}

func TestStart_ExplicitName(t *testing.T) {
	env := newTestEnv(t, nil)
	res, err := env.svc.Start(context.Background(), env.tenant, "whatever", "my-product")
	require.NoError(t, err)
	assert.Equal(t, "my-product", res.ProjectName)
}

func TestStart_NoCredentialStillSucceeds(t *testing.T) {
	env := newTestEnv(t, nil)
	t.Setenv("LLM_API_KEY", "")

	res, err := env.svc.Start(context.Background(), env.tenant, "an idea", "")
	require.NoError(t, err)
	assert.Equal(t, llm.NoCredentialMessage, res.AssistantReply)
}

func TestAppendIdea(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "first idea", "")
	require.NoError(t, err)

	env.reply = "Understood, MVP it is."
	res, err := env.svc.AppendIdea(ctx, env.tenant, start.SessionID, "keep it MVP scope")
	require.NoError(t, err)

	assert.Equal(t, "idea appended", res.Message)
	assert.Equal(t, "keep it MVP scope", res.UserText)
	assert.Equal(t, "Understood, MVP it is.", res.AssistantReply)

	// The completion received the prior conversation as history.
	msgs := env.lastChat["messages"].([]any)
	assert.GreaterOrEqual(t, len(msgs), 4) // system + 2 prior turns + new input

	st := env.load(t)
	turns := st.ConversationFor(start.SessionID)
	require.Len(t, turns, 4)
	assert.Equal(t, "user", turns[2].Role)
	assert.Equal(t, "assistant", turns[3].Role)
	assert.Equal(t, "keep it MVP scope", st.Sessions[start.SessionID].ContextSnapshot)
	assert.Len(t, st.IdeaEvents, 2)
}

func TestAppendIdea_SessionNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.AppendIdea(context.Background(), env.tenant, "nope", "text")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestGeneratePrd(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an inventory tracker", "")
	require.NoError(t, err)

	env.reply = "# PRD\n\n## Background & Goals\n\n" + strings.Repeat("Track inventory across warehouses. ", 10)
	res, err := env.svc.GeneratePrd(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Version)
	assert.Empty(t, res.DiffFromPrev)
	assert.Equal(t, env.reply, res.Content)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, env.reply, string(data))

	st := env.load(t)
	assert.Equal(t, model.StagePrdConfirmed, st.Sessions[start.SessionID].Stage)
	assert.Equal(t, "PRD v1 ready", st.Sessions[start.SessionID].ContextSnapshot)

	// A second generation gets version 2 and a diff note.
	res2, err := env.svc.GeneratePrd(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Version)
	assert.Equal(t, "Incremental update from PRD v1", res2.DiffFromPrev)
}

func TestGeneratePrd_Fallback(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "a fitness tracker", "")
	require.NoError(t, err)

	env.reply = "too short"
	res, err := env.svc.GeneratePrd(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)

	assert.Contains(t, res.Content, "##")
	assert.Contains(t, res.Content, "a fitness tracker")
	assert.Contains(t, res.Content, "- **user**:")
}

func TestGeneratePrd_NoHeadings(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "")
	require.NoError(t, err)

	env.reply = strings.Repeat("prose without any section markers whatsoever ", 10)
	res, err := env.svc.GeneratePrd(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "## Conversation Summary")
}

func TestGeneratePrd_NoConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// A session persisted without any turns.
	st := model.NewStateStore()
	st.Projects["p1"] = &model.Project{ID: "p1", Name: "bare", Status: "ACTIVE", CreatedAt: model.Now(), UpdatedAt: model.Now()}
	st.Sessions["s1"] = &model.Session{SessionID: "s1", ProjectID: "p1", Stage: model.StageClarifying}
	require.NoError(t, env.backend.Save(ctx, env.tenant, st))

	_, err := env.svc.GeneratePrd(ctx, env.tenant, "s1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "no conversation")
}

func TestRunDev_DryRun(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "proj")
	require.NoError(t, err)

	res, err := env.svc.RunDev(ctx, env.tenant, start.SessionID, "", true, false)
	require.NoError(t, err)

	assert.Equal(t, "development workflow queued (dry-run)", res.Message)
	assert.True(t, res.DryRun)
	assert.Equal(t, model.RunQueued, res.RunStatus)
	assert.Nil(t, res.EngineReply)
	assert.Equal(t, "agent.run", res.EngineRequest["method"])

	st := env.load(t)
	require.Len(t, st.TaskRuns, 1)
	run := st.TaskRuns[0]
	assert.Equal(t, model.RunQueued, run.RunStatus)
	assert.Contains(t, run.PlanJSON, "agent.run")
	assert.Equal(t, model.StageDeveloping, st.Sessions[start.SessionID].Stage)
	// Default instruction is built from the project name.
	assert.Contains(t, st.Sessions[start.SessionID].ContextSnapshot, "`proj`")
}

func TestRunDev_Synchronous(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"status": "completed", "message": "built", "session_id": "x"},
		})
	})
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "")
	require.NoError(t, err)

	res, err := env.svc.RunDev(ctx, env.tenant, start.SessionID, "build the thing", false, false)
	require.NoError(t, err)

	assert.Equal(t, "development workflow executed", res.Message)
	assert.Equal(t, model.RunSucceeded, res.RunStatus)
	require.NotNil(t, res.EngineReply)
	assert.Equal(t, "built", res.EngineReply.Message)

	st := env.load(t)
	assert.Equal(t, model.StageTesting, st.Sessions[start.SessionID].Stage)
	assert.Equal(t, "build the thing", st.Sessions[start.SessionID].ContextSnapshot)
}

func TestRunDev_DryRunThenRealRun(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"status": "completed", "message": "built", "session_id": "x"},
		})
	})
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "proj")
	require.NoError(t, err)

	dry, err := env.svc.RunDev(ctx, env.tenant, start.SessionID, "", true, false)
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, dry.RunStatus)

	run, err := env.svc.RunDev(ctx, env.tenant, start.SessionID, "", false, false)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, run.RunStatus)

	// Both runs are recorded, in order; the dry run stays QUEUED.
	st := env.load(t)
	require.Len(t, st.TaskRuns, 2)
	assert.Equal(t, model.RunQueued, st.TaskRuns[0].RunStatus)
	assert.Equal(t, model.RunSucceeded, st.TaskRuns[1].RunStatus)
	assert.Equal(t, model.StageTesting, st.Sessions[start.SessionID].Stage)
}

func TestRunDev_EngineFailureRecordsFailedRun(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": -32000, "message": "boom"},
		})
	})
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "")
	require.NoError(t, err)

	res, err := env.svc.RunDev(ctx, env.tenant, start.SessionID, "", false, false)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, res.RunStatus)
	assert.Nil(t, res.EngineReply)

	st := env.load(t)
	require.Len(t, st.TaskRuns, 1)
	assert.Equal(t, model.RunFailed, st.TaskRuns[0].RunStatus)
	assert.Contains(t, st.TaskRuns[0].Logs, "boom")
	assert.Equal(t, model.StageDeveloping, st.Sessions[start.SessionID].Stage)
}

func TestRunDev_Streaming(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"log","message":"planning"}`)
		fmt.Fprintln(w, `{"type":"completed","message":"done"}`)
	})
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "")
	require.NoError(t, err)

	res, err := env.svc.RunDev(ctx, env.tenant, start.SessionID, "", false, true)
	require.NoError(t, err)
	assert.True(t, res.Streaming)
	assert.Equal(t, model.RunQueued, res.RunStatus)

	events, err := env.svc.TakeStream(start.SessionID)
	require.NoError(t, err)
	var got []engine.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, engine.EventCompleted, got[1].Type)

	// The stream is consumed exactly once.
	_, err = env.svc.TakeStream(start.SessionID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// saveFailBackend delegates to a real backend until fail is set.
type saveFailBackend struct {
	state.Backend
	fail bool
}

func (b *saveFailBackend) Save(ctx context.Context, tenant string, s *model.StateStore) error {
	if b.fail {
		return fmt.Errorf("disk full")
	}
	return b.Backend.Save(ctx, tenant, s)
}

func TestRunDev_StreamingSaveFailureDiscardsStream(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"completed","message":"done"}`)
	})
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "")
	require.NoError(t, err)

	fb := &saveFailBackend{Backend: env.backend}
	svc := New(fb, env.svc.gateway, env.svc.relay, nil, "", zerolog.Nop())
	fb.fail = true

	_, err = svc.RunDev(ctx, env.tenant, start.SessionID, "", false, true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	// The unrecorded run's stream was discarded, not left registered.
	_, err = svc.TakeStream(start.SessionID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRunDeploy(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "")
	require.NoError(t, err)

	// No PRD yet: the version label falls back to prd-v0.
	res, err := env.svc.RunDeploy(ctx, env.tenant, start.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, "deployment recorded", res.Message)
	assert.Equal(t, "staging", res.Env)
	assert.Equal(t, "prd-v0", res.Version)
	assert.Equal(t, "SIMULATED_SUCCESS", res.Result)

	st := env.load(t)
	assert.Equal(t, model.StageDelivered, st.Sessions[start.SessionID].Stage)
	assert.Equal(t, "deployed to staging", st.Sessions[start.SessionID].ContextSnapshot)
	require.Len(t, st.DeploymentRuns, 1)
	assert.Contains(t, st.DeploymentRuns[0].RollbackHint, res.ProjectID)

	// With a PRD, the label names its version.
	env.reply = "## PRD\n\n" + strings.Repeat("content ", 40)
	_, err = env.svc.GeneratePrd(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)
	res2, err := env.svc.RunDeploy(ctx, env.tenant, start.SessionID, "production")
	require.NoError(t, err)
	assert.Equal(t, "prd-v1", res2.Version)
	assert.Equal(t, "production", res2.Env)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	start, err := env.svc.Start(ctx, env.tenant, "an idea", "named")
	require.NoError(t, err)

	env.reply = "## PRD\n\n" + strings.Repeat("content ", 40)
	_, err = env.svc.GeneratePrd(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)
	_, err = env.svc.RunDev(ctx, env.tenant, start.SessionID, "", true, false)
	require.NoError(t, err)
	_, err = env.svc.RunDeploy(ctx, env.tenant, start.SessionID, "staging")
	require.NoError(t, err)

	res, err := env.svc.Status(ctx, env.tenant, start.SessionID)
	require.NoError(t, err)

	assert.Equal(t, "named", res.Project.Name)
	assert.Equal(t, model.StageDelivered, res.Session.Stage)
	require.NotNil(t, res.LatestPrd)
	assert.Equal(t, 1, res.LatestPrd.Version)
	require.NotNil(t, res.LatestTask)
	assert.Equal(t, model.RunQueued, res.LatestTask.RunStatus)
	require.NotNil(t, res.LatestDeployment)
	assert.Equal(t, "staging", res.LatestDeployment.Env)
	assert.Len(t, res.Conversation, 2)
}

func TestStatus_UnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.Status(context.Background(), env.tenant, "ghost")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListProjects_SortedByUpdate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.Start(ctx, env.tenant, "first", "alpha")
	require.NoError(t, err)
	second, err := env.svc.Start(ctx, env.tenant, "second", "beta")
	require.NoError(t, err)

	// Touch the first project again so it sorts to the top.
	_, err = env.svc.AppendIdea(ctx, env.tenant, first.SessionID, "more detail")
	require.NoError(t, err)

	res, err := env.svc.ListProjects(ctx, env.tenant)
	require.NoError(t, err)
	require.Len(t, res.Projects, 2)
	assert.Equal(t, "alpha", res.Projects[0].Name)
	assert.Equal(t, "beta", res.Projects[1].Name)
	assert.Equal(t, second.SessionID, res.Projects[1].SessionID)
}

func TestListProjects_Empty(t *testing.T) {
	env := newTestEnv(t, nil)
	res, err := env.svc.ListProjects(context.Background(), env.tenant)
	require.NoError(t, err)
	assert.Empty(t, res.Projects)
}
