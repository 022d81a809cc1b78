package workflow

import (
	"context"
	"sort"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/model"
)

// ProjectSummary is the project slice of a status snapshot.
type ProjectSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// SessionSummary is the session slice of a status snapshot.
type SessionSummary struct {
	SessionID       string      `json:"session_id"`
	Stage           model.Stage `json:"stage"`
	ContextSnapshot string      `json:"context_snapshot"`
}

// PrdSummary is the latest PRD version, without its content.
type PrdSummary struct {
	Version      int    `json:"version"`
	DiffFromPrev string `json:"diff_from_prev,omitempty"`
}

// TaskSummary is the latest task run.
type TaskSummary struct {
	TaskID    string `json:"task_id"`
	RunStatus string `json:"run_status"`
}

// DeploySummary is the latest deployment run.
type DeploySummary struct {
	DeployID string `json:"deploy_id"`
	Env      string `json:"env"`
	Version  string `json:"version"`
	Result   string `json:"result"`
}

// StatusResult is the full status snapshot for a session.
type StatusResult struct {
	Project          ProjectSummary           `json:"project"`
	Session          SessionSummary           `json:"session"`
	Conversation     []model.ConversationTurn `json:"conversation"`
	LatestPrd        *PrdSummary              `json:"latest_prd"`
	LatestTask       *TaskSummary             `json:"latest_task"`
	LatestDeployment *DeploySummary           `json:"latest_deployment"`
}

// Status returns the read-only snapshot for one session. Latest means last
// in insertion order, not by timestamp comparison.
func (s *Service) Status(ctx context.Context, tenant, sessionID string) (res *StatusResult, err error) {
	defer func() { s.recordOp("status", err) }()

	st, err := s.backend.Load(ctx, tenant)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state")
	}
	sess, project, err := lookupSession(st, sessionID)
	if err != nil {
		return nil, err
	}

	out := &StatusResult{
		Project: ProjectSummary{ID: project.ID, Name: project.Name, Status: project.Status},
		Session: SessionSummary{
			SessionID:       sess.SessionID,
			Stage:           sess.Stage,
			ContextSnapshot: sess.ContextSnapshot,
		},
		Conversation: st.ConversationFor(sessionID),
	}
	if prd := st.LatestPrdFor(project.ID); prd != nil {
		out.LatestPrd = &PrdSummary{Version: prd.Version, DiffFromPrev: prd.DiffFromPrev}
	}
	if task := st.LastTaskRunFor(project.ID); task != nil {
		out.LatestTask = &TaskSummary{TaskID: task.TaskID, RunStatus: task.RunStatus}
	}
	if dep := st.LastDeploymentFor(project.ID); dep != nil {
		out.LatestDeployment = &DeploySummary{
			DeployID: dep.DeployID,
			Env:      dep.Env,
			Version:  dep.Version,
			Result:   dep.Result,
		}
	}
	return out, nil
}

// ProjectListItem is one row of the project listing.
type ProjectListItem struct {
	ProjectID string      `json:"project_id"`
	Name      string      `json:"name"`
	Status    string      `json:"status"`
	UpdatedAt string      `json:"updated_at"`
	SessionID string      `json:"session_id"`
	Stage     model.Stage `json:"stage"`
}

// ProjectList is returned by ListProjects.
type ProjectList struct {
	Projects []ProjectListItem `json:"projects"`
}

// ListProjects joins each project with a session referencing it, sorted by
// last update descending. The timestamp format is fixed-width, so string
// comparison orders correctly. Projects without any session are omitted.
func (s *Service) ListProjects(ctx context.Context, tenant string) (res *ProjectList, err error) {
	defer func() { s.recordOp("projects", err) }()

	st, err := s.backend.Load(ctx, tenant)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state")
	}

	list := make([]ProjectListItem, 0, len(st.Projects))
	for _, project := range st.Projects {
		sess := st.SessionForProject(project.ID)
		if sess == nil {
			continue
		}
		list = append(list, ProjectListItem{
			ProjectID: project.ID,
			Name:      project.Name,
			Status:    project.Status,
			UpdatedAt: project.UpdatedAt,
			SessionID: sess.SessionID,
			Stage:     sess.Stage,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt != list[j].UpdatedAt {
			return list[i].UpdatedAt > list[j].UpdatedAt
		}
		return list[i].ProjectID < list[j].ProjectID
	})
	return &ProjectList{Projects: list}, nil
}
