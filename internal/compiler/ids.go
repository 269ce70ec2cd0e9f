package compiler

import (
	"strings"

	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
)

const (
	dagPrefix  = "dag_"
	taskPrefix = "task_"
)

// DAGID derives the orchestrator DAG id from a project id. Dashes are
// not valid in orchestrator identifiers, so they become underscores.
func DAGID(projectID uuid.UUID) string {
	return dagPrefix + strings.ReplaceAll(projectID.String(), "-", "_")
}

// ProjectIDFromDAGID is the inverse of DAGID.
func ProjectIDFromDAGID(dagID string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(dagID, dagPrefix)
	if !ok {
		return uuid.Nil, apperr.Newf(apperr.CodeUnprocessable,
			"%q is not a workflow DAG id", dagID)
	}
	id, err := uuid.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeUnprocessable,
			"invalid DAG id "+dagID, err)
	}
	return id, nil
}

// TaskID derives the orchestrator task id from a block id.
func TaskID(blockID uuid.UUID) string {
	return taskPrefix + strings.ReplaceAll(blockID.String(), "-", "_")
}

// BlockIDFromTaskID is the inverse of TaskID.
func BlockIDFromTaskID(taskID string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(taskID, taskPrefix)
	if !ok {
		return uuid.Nil, apperr.Newf(apperr.CodeUnprocessable,
			"%q is not a workflow task id", taskID)
	}
	id, err := uuid.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeUnprocessable,
			"invalid task id "+taskID, err)
	}
	return id, nil
}
