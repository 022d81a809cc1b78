package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/llm"
	"github.com/celadon-dev/celadon/internal/model"
)

// prdMinLength is the fallback threshold: a completion shorter than this
// is treated as unusable.
const prdMinLength = 150

// PrdResult is returned by GeneratePrd.
type PrdResult struct {
	Message      string `json:"message"`
	ProjectID    string `json:"project_id"`
	SessionID    string `json:"session_id"`
	Version      int    `json:"version"`
	Path         string `json:"path"`
	Content      string `json:"content"`
	DiffFromPrev string `json:"diff_from_prev,omitempty"`
}

// GeneratePrd distills the session's conversation into the next PRD
// version. A degenerate completion falls back to a deterministic document
// so the operation never produces an empty artifact.
func (s *Service) GeneratePrd(ctx context.Context, tenant, sessionID string) (res *PrdResult, err error) {
	defer func() { s.recordOp("prd_generate", err) }()
	unlock := s.lockTenant(tenant)
	defer unlock()

	st, err := s.backend.Load(ctx, tenant)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state")
	}
	_, project, err := lookupSession(st, sessionID)
	if err != nil {
		return nil, err
	}
	turns := st.ConversationFor(sessionID)
	if len(turns) == 0 {
		return nil, apperr.Validation("no conversation found for session: %s", sessionID)
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "[%s] %s\n", t.Role, t.Content)
	}
	input := fmt.Sprintf("Project name: %s\n\nConversation log:\n%s", project.Name, transcript.String())
	raw, err := s.gateway.Completion(ctx, config.RolePlanner, llm.PrdGenSystem, nil, input)
	if err != nil {
		return nil, err
	}

	content := raw
	if prdNeedsFallback(raw) {
		s.logger.Warn().Str("session_id", sessionID).Int("reply_len", len(strings.TrimSpace(raw))).
			Msg("completion unusable as PRD, using fallback document")
		content = fallbackPrd(project.Name, turns)
	}

	version := st.NextPrdVersion(project.ID)
	diffNote := ""
	if prev := st.LatestPrdFor(project.ID); prev != nil {
		diffNote = fmt.Sprintf("Incremental update from PRD v%d", prev.Version)
	}
	st.PrdVersions = append(st.PrdVersions, model.PrdVersion{
		PrdID:        model.NewID(),
		ProjectID:    project.ID,
		Version:      version,
		Content:      content,
		DiffFromPrev: diffNote,
	})
	path, err := s.backend.WritePRD(tenant, project.ID, version, content)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "write prd file")
	}

	s.setStage(st, sessionID, model.StagePrdConfirmed)
	st.Sessions[sessionID].ContextSnapshot = fmt.Sprintf("PRD v%d ready", version)
	s.touchProject(st, project.ID)
	if err := s.persist(ctx, tenant, st); err != nil {
		return nil, err
	}

	return &PrdResult{
		Message:      "prd generated",
		ProjectID:    project.ID,
		SessionID:    sessionID,
		Version:      version,
		Path:         path,
		Content:      content,
		DiffFromPrev: diffNote,
	}, nil
}

// prdNeedsFallback reports whether the completion is empty, too short, or
// lacks section headings.
func prdNeedsFallback(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) < prdMinLength {
		return true
	}
	return !strings.Contains(trimmed, "##")
}

// fallbackPrd builds a deterministic PRD skeleton around the role-labelled
// conversation transcript.
func fallbackPrd(projectName string, turns []model.ConversationTurn) string {
	items := make([]string, 0, len(turns))
	for _, t := range turns {
		items = append(items, fmt.Sprintf("- **%s**: %s", t.Role, strings.TrimSpace(t.Content)))
	}
	return fmt.Sprintf(`# PRD · %s

## Background & Goals

Compiled from the clarification conversation below. If this reads as a summary rather than a full PRD, check the backend LLM configuration (e.g. DEEPSEEK_API_KEY) and regenerate.

## Conversation Summary

%s

## Features & Acceptance

Feature list and acceptance criteria to be completed from the conversation above.`,
		projectName, strings.Join(items, "\n\n"))
}
