// Package workflow implements the stage state machine that drives a
// project from idea to delivery. Every operation performs a fresh
// load-mutate-save cycle against the persistence backend; nothing is
// cached across requests.
package workflow

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/engine"
	"github.com/celadon-dev/celadon/internal/llm"
	"github.com/celadon-dev/celadon/internal/metrics"
	"github.com/celadon-dev/celadon/internal/model"
	"github.com/celadon-dev/celadon/internal/relay"
	"github.com/celadon-dev/celadon/internal/state"
)

// Service is the workflow orchestrator. One instance serves all tenants;
// tenant state is loaded per operation.
type Service struct {
	backend   state.Backend
	gateway   *engine.Gateway
	relay     *relay.Relay
	metrics   *metrics.Metrics
	workspace string
	logger    zerolog.Logger

	locks lockMap
}

// New creates the orchestrator. metrics may be nil. workspace defaults to
// the current working directory.
func New(backend state.Backend, gateway *engine.Gateway, rel *relay.Relay, m *metrics.Metrics, workspace string, logger zerolog.Logger) *Service {
	if workspace == "" {
		if cwd, err := os.Getwd(); err == nil {
			workspace = cwd
		} else {
			workspace = "."
		}
	}
	return &Service{
		backend:   backend,
		gateway:   gateway,
		relay:     rel,
		metrics:   m,
		workspace: workspace,
		logger:    logger.With().Str("component", "workflow").Logger(),
	}
}

// lockMap serialises mutating operations per tenant. Without it two
// concurrent writers would race on the whole-document save and the later
// one would silently discard the earlier one's changes.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *lockMap) acquire(tenant string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[tenant]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenant] = m
	}
	return m
}

func (s *Service) lockTenant(tenant string) func() {
	m := s.locks.acquire(tenant)
	m.Lock()
	return m.Unlock
}

func (s *Service) recordOp(operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		s.metrics.RecordError("workflow", string(apperr.KindOf(err)))
	}
	s.metrics.RecordOperation(operation, result)
}

func (s *Service) setStage(st *model.StateStore, sessionID string, stage model.Stage) {
	if sess, ok := st.Sessions[sessionID]; ok {
		sess.Stage = stage
		if s.metrics != nil {
			s.metrics.RecordStage(string(stage))
		}
	}
}

func (s *Service) touchProject(st *model.StateStore, projectID string) {
	if p, ok := st.Projects[projectID]; ok {
		p.UpdatedAt = model.Now()
	}
}

func (s *Service) persist(ctx context.Context, tenant string, st *model.StateStore) error {
	if err := s.backend.Save(ctx, tenant, st); err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "save state")
	}
	return nil
}

func appendTurn(st *model.StateStore, sessionID, role, content string) error {
	if _, ok := st.Sessions[sessionID]; !ok {
		return apperr.NotFound("session", sessionID)
	}
	st.ConversationTurns = append(st.ConversationTurns, model.ConversationTurn{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: model.Now(),
	})
	return nil
}

func appendIdeaEvent(st *model.StateStore, sessionID, text string) error {
	if _, ok := st.Sessions[sessionID]; !ok {
		return apperr.NotFound("session", sessionID)
	}
	st.IdeaEvents = append(st.IdeaEvents, model.IdeaEvent{
		EventID:   model.NewID(),
		SessionID: sessionID,
		UserInput: text,
		CreatedAt: model.Now(),
	})
	return nil
}

// lookupSession resolves the session and its owning project.
func lookupSession(st *model.StateStore, sessionID string) (*model.Session, *model.Project, error) {
	sess, ok := st.Sessions[sessionID]
	if !ok {
		return nil, nil, apperr.NotFound("session", sessionID)
	}
	proj, ok := st.Projects[sess.ProjectID]
	if !ok {
		return nil, nil, apperr.NotFound("project", sess.ProjectID)
	}
	return sess, proj, nil
}

func history(st *model.StateStore, sessionID string) []llm.Message {
	turns := st.ConversationFor(sessionID)
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// StartResult is returned by Start.
type StartResult struct {
	Message        string                   `json:"message"`
	ProjectID      string                   `json:"project_id"`
	ProjectName    string                   `json:"project_name"`
	SessionID      string                   `json:"session_id"`
	Conversation   []model.ConversationTurn `json:"conversation"`
	AssistantReply string                   `json:"assistant_reply"`
	Stage          model.Stage              `json:"stage"`
}

// Start creates a project/session pair from an idea, records the idea as
// the first conversation exchange, and runs one clarification round.
func (s *Service) Start(ctx context.Context, tenant, idea, name string) (res *StartResult, err error) {
	defer func() { s.recordOp("start", err) }()
	unlock := s.lockTenant(tenant)
	defer unlock()

	st, err := s.backend.Load(ctx, tenant)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state")
	}

	now := model.Now()
	projectName := name
	if projectName == "" {
		projectName = model.SuggestProjectName(idea)
	}
	project := &model.Project{
		ID:        model.NewID(),
		Name:      projectName,
		Status:    "ACTIVE",
		CreatedAt: now,
		UpdatedAt: now,
	}
	session := &model.Session{
		SessionID:       model.NewID(),
		ProjectID:       project.ID,
		Stage:           model.StageClarifying,
		ContextSnapshot: idea,
	}
	st.Projects[project.ID] = project
	st.Sessions[session.SessionID] = session
	if err := appendTurn(st, session.SessionID, "user", idea); err != nil {
		return nil, err
	}
	if err := appendIdeaEvent(st, session.SessionID, idea); err != nil {
		return nil, err
	}

	reply, err := s.gateway.Completion(ctx, config.RolePlanner, llm.ClarifySystem, nil, idea)
	if err != nil {
		return nil, err
	}
	if err := appendTurn(st, session.SessionID, "assistant", reply); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordStage(string(model.StageClarifying))
	}
	s.touchProject(st, project.ID)
	if err := s.persist(ctx, tenant, st); err != nil {
		return nil, err
	}

	s.logger.Info().Str("project_id", project.ID).Str("session_id", session.SessionID).Msg("project started")
	return &StartResult{
		Message:        "project/session created",
		ProjectID:      project.ID,
		ProjectName:    projectName,
		SessionID:      session.SessionID,
		Conversation:   st.ConversationFor(session.SessionID),
		AssistantReply: reply,
		Stage:          model.StageClarifying,
	}, nil
}

// IdeaResult is returned by AppendIdea.
type IdeaResult struct {
	Message        string      `json:"message"`
	SessionID      string      `json:"session_id"`
	UserText       string      `json:"user_text"`
	AssistantReply string      `json:"assistant_reply"`
	Stage          model.Stage `json:"stage"`
}

// AppendIdea runs one clarification round for an existing session.
func (s *Service) AppendIdea(ctx context.Context, tenant, sessionID, text string) (res *IdeaResult, err error) {
	defer func() { s.recordOp("idea", err) }()
	unlock := s.lockTenant(tenant)
	defer unlock()

	st, err := s.backend.Load(ctx, tenant)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state")
	}
	sess, _, err := lookupSession(st, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := s.gateway.Completion(ctx, config.RolePlanner, llm.ClarifySystem, history(st, sessionID), text)
	if err != nil {
		return nil, err
	}

	if err := appendTurn(st, sessionID, "user", text); err != nil {
		return nil, err
	}
	if err := appendTurn(st, sessionID, "assistant", reply); err != nil {
		return nil, err
	}
	if err := appendIdeaEvent(st, sessionID, text); err != nil {
		return nil, err
	}
	s.setStage(st, sessionID, model.StageClarifying)
	st.Sessions[sessionID].ContextSnapshot = text
	s.touchProject(st, sess.ProjectID)
	if err := s.persist(ctx, tenant, st); err != nil {
		return nil, err
	}

	return &IdeaResult{
		Message:        "idea appended",
		SessionID:      sessionID,
		UserText:       text,
		AssistantReply: reply,
		Stage:          model.StageClarifying,
	}, nil
}

// defaultInstruction builds the dev instruction used when the caller
// supplies none.
func defaultInstruction(projectName string) string {
	return fmt.Sprintf("Implement the latest PRD for project `%s` and run tests.", projectName)
}
