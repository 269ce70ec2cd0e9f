package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/compiler"
	"github.com/flowbench-org/flowbench/internal/model"
)

// ValidationDetails is the MISSING_CONFIG payload: the keys still unset
// per block.
type ValidationDetails struct {
	ProjectID      string              `json:"project_id"`
	MissingConfigs map[string][]string `json:"missing_configs"`
}

// validateConfigured rejects blockless projects and projects whose
// envs or port configs still carry unset keys.
func validateConfigured(project *model.Project) error {
	if len(project.Blocks) == 0 {
		return apperr.Newf(apperr.CodeEmptyProject,
			"project %s has no blocks", project.ID)
	}

	missing := make(map[string][]string)
	for _, block := range project.Blocks {
		blockID := block.ID.String()
		for _, key := range block.Entrypoint.Envs.Keys() {
			if block.Entrypoint.Envs[key].IsUnset() {
				missing[blockID] = append(missing[blockID], key)
			}
		}
		for _, port := range block.Entrypoint.Ports {
			for _, key := range port.Config.Keys() {
				if port.Config[key].IsUnset() {
					missing[blockID] = append(missing[blockID], key)
				}
			}
		}
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.CodeMissingConfig,
			"project %s has unset configuration values", project.ID).
			WithDetails(ValidationDetails{
				ProjectID:      project.ID.String(),
				MissingConfigs: missing,
			})
	}
	return nil
}

// StartWorkflow launches the project: validate, compile, hand the
// artifact to the orchestrator, wait for registration, unpause and
// trigger. Returns the orchestrator run id.
func (s *Service) StartWorkflow(ctx context.Context, projectID, userID uuid.UUID) (string, error) {
	project, err := s.requireMember(ctx, projectID, userID)
	if err != nil {
		return "", err
	}
	if err := validateConfigured(project); err != nil {
		return "", err
	}

	edges, err := s.store.ListProjectEdges(ctx, projectID)
	if err != nil {
		return "", err
	}
	graph, err := compiler.BuildGraph(project, edges)
	if err != nil {
		return "", err
	}
	dagID, err := s.compiler.WriteArtifact(graph)
	if err != nil {
		return "", err
	}

	if err := s.orch.WaitForRegistration(ctx, dagID); err != nil {
		return "", err
	}
	if err := s.orch.Unpause(ctx, dagID); err != nil {
		return "", err
	}
	runID, err := s.orch.Trigger(ctx, dagID)
	if err != nil {
		return "", err
	}

	logger.Info(ctx, "Workflow started",
		tag.Project(projectID.String()), tag.DAG(dagID), tag.RunID(runID))
	return runID, nil
}

// ProjectStatus is the workflow-level state of one project.
type ProjectStatus struct {
	ProjectID uuid.UUID            `json:"project_id"`
	Name      string               `json:"name"`
	Status    model.WorkflowStatus `json:"status"`
}

// ProjectStatuses returns the latest workflow state per project the
// user belongs to. Projects that never ran show as IDLE.
func (s *Service) ProjectStatuses(ctx context.Context, userID uuid.UUID) ([]ProjectStatus, error) {
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return []ProjectStatus{}, nil
	}

	dagIDs := lo.Map(projects, func(p *model.Project, _ int) string {
		return compiler.DAGID(p.ID)
	})
	latest, err := s.orch.LastRuns(ctx, dagIDs)
	if err != nil {
		return nil, err
	}

	statuses := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		status := model.WorkflowStatusIdle
		if run, ok := latest[compiler.DAGID(p.ID)]; ok {
			status = model.WorkflowStatusFromEngineState(run.State)
		}
		statuses = append(statuses, ProjectStatus{
			ProjectID: p.ID,
			Name:      p.Name,
			Status:    status,
		})
	}
	return statuses, nil
}

// BlockStatuses returns the per-block state of the project's latest
// run, keyed by block id. A project that never ran yields an empty map.
func (s *Service) BlockStatuses(ctx context.Context, projectID, userID uuid.UUID) (map[uuid.UUID]model.BlockStatus, error) {
	if _, err := s.requireMember(ctx, projectID, userID); err != nil {
		return nil, err
	}

	dagID := compiler.DAGID(projectID)
	run, err := s.orch.LatestRun(ctx, dagID)
	if err != nil {
		return nil, err
	}
	statuses := make(map[uuid.UUID]model.BlockStatus)
	if run == nil {
		return statuses, nil
	}

	tasks, err := s.orch.TaskStates(ctx, dagID, run.RunID)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		blockID, err := compiler.BlockIDFromTaskID(task.TaskID)
		if err != nil {
			logger.Warn(ctx, "Skipping task with foreign id",
				tag.DAG(dagID), tag.Error(err))
			continue
		}
		statuses[blockID] = model.BlockStatusFromEngineState(task.State)
	}
	return statuses, nil
}

// WorkflowStatus returns the workflow-level state of the project's
// latest run.
func (s *Service) WorkflowStatus(ctx context.Context, projectID, userID uuid.UUID) (model.WorkflowStatus, error) {
	if _, err := s.requireMember(ctx, projectID, userID); err != nil {
		return "", err
	}
	run, err := s.orch.LatestRun(ctx, compiler.DAGID(projectID))
	if err != nil {
		return "", err
	}
	if run == nil {
		return model.WorkflowStatusIdle, nil
	}
	return model.WorkflowStatusFromEngineState(run.State), nil
}
