package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/engine"
	"github.com/celadon-dev/celadon/internal/model"
)

// DevResult is returned by RunDev.
type DevResult struct {
	Message       string            `json:"message"`
	DryRun        bool              `json:"dry_run"`
	Streaming     bool              `json:"streaming,omitempty"`
	RunStatus     string            `json:"run_status"`
	EngineRequest map[string]any    `json:"engine_request"`
	EngineReply   *engine.RunResult `json:"engine_response,omitempty"`
	LLMRequest    map[string]any    `json:"llm_request"`
}

// RunDev records a development task run. With dryRun the engine is never
// invoked and the run is left QUEUED. With stream the run is started
// through the streaming engine path and its event sequence is registered
// with the relay before returning; the run is recorded QUEUED because it
// is still in flight.
func (s *Service) RunDev(ctx context.Context, tenant, sessionID, instruction string, dryRun, stream bool) (res *DevResult, err error) {
	defer func() { s.recordOp("dev_run", err) }()
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
	if instruction == "" {
		instruction = defaultInstruction(project.Name)
	}

	payload := engine.RunPayload(sessionID, instruction, s.workspace)
	llmPayload := engine.InvokePayload("deepseek-chat", "Execute coding task based on current project context.", payload)

	var (
		reply     *engine.RunResult
		runStatus string
		logs      string
		message   string
	)
	switch {
	case dryRun:
		runStatus, logs = model.RunQueued, "dry-run only, the coding agent was not executed"
		message = "development workflow queued (dry-run)"
	case stream:
		events, serr := s.gateway.RunStreaming(ctx, sessionID, instruction, s.workspace, nil)
		if serr != nil {
			return nil, serr
		}
		s.relay.Register(sessionID, events)
		if s.metrics != nil {
			s.metrics.StreamsActive.Inc()
		}
		runStatus, logs = model.RunQueued, "streaming run started, attach to the event stream for progress"
		message = "development workflow started (streaming)"
	default:
		out, rerr := s.gateway.RunSynchronous(ctx, sessionID, instruction, s.workspace)
		if rerr != nil {
			runStatus, logs = model.RunFailed, "coding agent returned an error: "+rerr.Error()
		} else {
			reply = &out
			runStatus, logs = model.RunSucceeded, "coding agent executed successfully"
		}
		message = "development workflow executed"
	}
	if s.metrics != nil {
		mode := "sync"
		if dryRun {
			mode = "dry_run"
		} else if stream {
			mode = "stream"
		}
		s.metrics.RecordEngineRun(mode, runStatus)
	}

	plan, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "encode execution plan")
	}
	st.TaskRuns = append(st.TaskRuns, model.TaskRun{
		TaskID:    model.NewID(),
		ProjectID: project.ID,
		PlanJSON:  string(plan),
		RunStatus: runStatus,
		Logs:      logs,
	})

	stage := model.StageDeveloping
	if runStatus == model.RunSucceeded {
		stage = model.StageTesting
	}
	s.setStage(st, sessionID, stage)
	st.Sessions[sessionID].ContextSnapshot = instruction
	s.touchProject(st, project.ID)
	if err := s.persist(ctx, tenant, st); err != nil {
		if stream {
			// The run was not recorded, so the registered stream must not
			// linger waiting for a consumer that has no session to attach
			// from.
			s.relay.Discard(sessionID)
			if s.metrics != nil {
				s.metrics.StreamsActive.Dec()
			}
		}
		return nil, err
	}

	return &DevResult{
		Message:       message,
		DryRun:        dryRun,
		Streaming:     stream,
		RunStatus:     runStatus,
		EngineRequest: payload,
		EngineReply:   reply,
		LLMRequest:    llmPayload,
	}, nil
}

// DeployResult is returned by RunDeploy.
type DeployResult struct {
	Message   string `json:"message"`
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Env       string `json:"env"`
	Version   string `json:"version"`
	Result    string `json:"result"`
}

// RunDeploy records a simulated deployment of the latest PRD version.
func (s *Service) RunDeploy(ctx context.Context, tenant, sessionID, env string) (res *DeployResult, err error) {
	defer func() { s.recordOp("deploy", err) }()
	unlock := s.lockTenant(tenant)
	defer unlock()

	if env == "" {
		env = "staging"
	}
	st, err := s.backend.Load(ctx, tenant)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load state")
	}
	_, project, err := lookupSession(st, sessionID)
	if err != nil {
		return nil, err
	}
	s.setStage(st, sessionID, model.StageDeploying)

	versionLabel := "prd-v0"
	if prd := st.LatestPrdFor(project.ID); prd != nil {
		versionLabel = fmt.Sprintf("prd-v%d", prd.Version)
	}
	st.DeploymentRuns = append(st.DeploymentRuns, model.DeploymentRun{
		DeployID:     model.NewID(),
		ProjectID:    project.ID,
		Env:          env,
		Version:      versionLabel,
		Result:       "SIMULATED_SUCCESS",
		RollbackHint: fmt.Sprintf("redeploy previous stable tag for project %s", project.ID),
	})

	s.setStage(st, sessionID, model.StageDelivered)
	st.Sessions[sessionID].ContextSnapshot = fmt.Sprintf("deployed to %s", env)
	s.touchProject(st, project.ID)
	if err := s.persist(ctx, tenant, st); err != nil {
		return nil, err
	}

	return &DeployResult{
		Message:   "deployment recorded",
		ProjectID: project.ID,
		SessionID: sessionID,
		Env:       env,
		Version:   versionLabel,
		Result:    "SIMULATED_SUCCESS",
	}, nil
}

// TakeStream hands the registered event stream for a session to its single
// consumer.
func (s *Service) TakeStream(sessionID string) (<-chan engine.Event, error) {
	events, err := s.relay.Take(sessionID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.StreamsActive.Dec()
	}
	return events, nil
}
