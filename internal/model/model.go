// Package model defines the workflow entities and their aggregate StateStore.
// Entities are pure data; cross-references are opaque string identifiers
// resolved through the owning StateStore, never materialized pointers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the lifecycle position of a session.
type Stage string

const (
	StageIdeaCollecting Stage = "IDEA_COLLECTING"
	StageClarifying     Stage = "CLARIFYING"
	StagePrdConfirmed   Stage = "PRD_CONFIRMED"
	StageDeveloping     Stage = "DEVELOPING"
	StageTesting        Stage = "TESTING"
	StageDeploying      Stage = "DEPLOYING"
	StageDelivered      Stage = "DELIVERED"
)

// Run statuses recorded on TaskRun.
const (
	RunQueued    = "QUEUED"
	RunSucceeded = "SUCCEEDED"
	RunFailed    = "FAILED"
)

// Project is the top-level unit of work. Never deleted.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Session tracks a clarification conversation and its current stage.
type Session struct {
	SessionID       string `json:"session_id"`
	ProjectID       string `json:"project_id"`
	Stage           Stage  `json:"stage"`
	ContextSnapshot string `json:"context_snapshot"`
}

// IdeaEvent is the legacy raw-input record, superseded by ConversationTurn.
// Kept for backward-compatible migration of old state documents.
type IdeaEvent struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	UserInput string `json:"user_input"`
	CreatedAt string `json:"created_at"`
}

// ConversationTurn is one exchange entry. Append-only; insertion order in
// StateStore.ConversationTurns is the order of truth.
type ConversationTurn struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"` // "user" | "assistant"
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// PrdVersion is one generated requirements document. Versions for a project
// form the gapless sequence 1..N.
type PrdVersion struct {
	PrdID        string `json:"prd_id"`
	ProjectID    string `json:"project_id"`
	Version      int    `json:"version"`
	Content      string `json:"content"`
	DiffFromPrev string `json:"diff_from_prev,omitempty"`
}

// TaskRun records one development run request.
type TaskRun struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	PlanJSON  string `json:"plan_json"`
	RunStatus string `json:"run_status"`
	Logs      string `json:"logs"`
}

// DeploymentRun records one deployment.
type DeploymentRun struct {
	DeployID     string `json:"deploy_id"`
	ProjectID    string `json:"project_id"`
	Env          string `json:"env"`
	Version      string `json:"version"`
	Result       string `json:"result"`
	RollbackHint string `json:"rollback_hint"`
}

// StateStore is the aggregate root for one tenant. Maps key projects and
// sessions by id; the remaining sequences are append-only and ordered by
// insertion.
type StateStore struct {
	Projects          map[string]*Project `json:"projects"`
	Sessions          map[string]*Session `json:"sessions"`
	IdeaEvents        []IdeaEvent         `json:"idea_events"`
	ConversationTurns []ConversationTurn  `json:"conversation_turns"`
	PrdVersions       []PrdVersion        `json:"prd_versions"`
	TaskRuns          []TaskRun           `json:"task_runs"`
	DeploymentRuns    []DeploymentRun     `json:"deployment_runs"`
}

// NewStateStore returns an empty aggregate with initialized maps.
func NewStateStore() *StateStore {
	return &StateStore{
		Projects: make(map[string]*Project),
		Sessions: make(map[string]*Session),
	}
}

// Normalize makes a deserialized store safe to use: nil maps (from old or
// hand-edited documents) become empty maps.
func (s *StateStore) Normalize() {
	if s.Projects == nil {
		s.Projects = make(map[string]*Project)
	}
	if s.Sessions == nil {
		s.Sessions = make(map[string]*Session)
	}
}

// ConversationFor returns the turns of one session in insertion order.
func (s *StateStore) ConversationFor(sessionID string) []ConversationTurn {
	var turns []ConversationTurn
	for _, t := range s.ConversationTurns {
		if t.SessionID == sessionID {
			turns = append(turns, t)
		}
	}
	return turns
}

// LatestPrdFor returns the highest-versioned PRD for a project, or nil.
func (s *StateStore) LatestPrdFor(projectID string) *PrdVersion {
	var latest *PrdVersion
	for i := range s.PrdVersions {
		v := &s.PrdVersions[i]
		if v.ProjectID == projectID && (latest == nil || v.Version > latest.Version) {
			latest = v
		}
	}
	return latest
}

// NextPrdVersion returns the version number a new PRD for the project must
// carry: count of existing versions plus one, starting at 1.
func (s *StateStore) NextPrdVersion(projectID string) int {
	n := 0
	for i := range s.PrdVersions {
		if s.PrdVersions[i].ProjectID == projectID {
			n++
		}
	}
	return n + 1
}

// LastTaskRunFor returns the most recently appended TaskRun for a project.
func (s *StateStore) LastTaskRunFor(projectID string) *TaskRun {
	for i := len(s.TaskRuns) - 1; i >= 0; i-- {
		if s.TaskRuns[i].ProjectID == projectID {
			return &s.TaskRuns[i]
		}
	}
	return nil
}

// LastDeploymentFor returns the most recently appended DeploymentRun for a project.
func (s *StateStore) LastDeploymentFor(projectID string) *DeploymentRun {
	for i := len(s.DeploymentRuns) - 1; i >= 0; i-- {
		if s.DeploymentRuns[i].ProjectID == projectID {
			return &s.DeploymentRuns[i]
		}
	}
	return nil
}

// SessionForProject returns the first session referencing the project, or nil.
func (s *StateStore) SessionForProject(projectID string) *Session {
	for _, sess := range s.Sessions {
		if sess.ProjectID == projectID {
			return sess
		}
	}
	return nil
}

// MigrateIdeaEvents copies legacy IdeaEvents into ConversationTurns the first
// time a store is loaded with IdeaEvents but no turns. Idempotent: a store
// that already has turns is left untouched, so running it twice yields the
// same sequence as running it once.
func (s *StateStore) MigrateIdeaEvents() {
	if len(s.ConversationTurns) > 0 || len(s.IdeaEvents) == 0 {
		return
	}
	for _, e := range s.IdeaEvents {
		s.ConversationTurns = append(s.ConversationTurns, ConversationTurn{
			SessionID: e.SessionID,
			Role:      "user",
			Content:   e.UserInput,
			CreatedAt: e.CreatedAt,
		})
	}
}

// NewID returns a collision-resistant random identifier.
func NewID() string {
	return uuid.NewString()
}

// Now returns the fixed-width timestamp format used on every entity.
// RFC3339 UTC with zero-padded nanoseconds sorts lexicographically in
// time order.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
