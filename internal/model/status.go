package model

// BlockStatus is the per-block run state shown on the canvas.
type BlockStatus string

const (
	BlockStatusIdle      BlockStatus = "IDLE"
	BlockStatusScheduled BlockStatus = "SCHEDULED"
	BlockStatusRunning   BlockStatus = "RUNNING"
	BlockStatusSuccess   BlockStatus = "SUCCESS"
	BlockStatusFailed    BlockStatus = "FAILED"
)

// BlockStatusFromEngineState projects an orchestrator task state onto a
// BlockStatus. Unknown or empty states map to IDLE.
func BlockStatusFromEngineState(state string) BlockStatus {
	switch state {
	case "running":
		return BlockStatusRunning
	case "success":
		return BlockStatusSuccess
	case "failed":
		return BlockStatusFailed
	case "scheduled":
		return BlockStatusScheduled
	default:
		return BlockStatusIdle
	}
}

// WorkflowStatus is the whole-pipeline run state. It has no SCHEDULED
// variant; a scheduled run still shows as IDLE at the workflow level.
type WorkflowStatus string

const (
	WorkflowStatusIdle     WorkflowStatus = "IDLE"
	WorkflowStatusRunning  WorkflowStatus = "RUNNING"
	WorkflowStatusFinished WorkflowStatus = "FINISHED"
	WorkflowStatusFailed   WorkflowStatus = "FAILED"
)

// WorkflowStatusFromEngineState projects an orchestrator run state onto
// a WorkflowStatus. Unknown or empty states map to IDLE.
func WorkflowStatusFromEngineState(state string) WorkflowStatus {
	switch state {
	case "running":
		return WorkflowStatusRunning
	case "success":
		return WorkflowStatusFinished
	case "failed":
		return WorkflowStatusFailed
	default:
		return WorkflowStatusIdle
	}
}
