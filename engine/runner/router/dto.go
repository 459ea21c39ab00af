package runrouter

import "github.com/compozy/tasktree/engine/runner"

// StartRequest starts a workflow of a loaded process.
type StartRequest struct {
	Process    string         `json:"process"     binding:"required"`
	Data       map[string]any `json:"data"`
	AutoManual bool           `json:"auto_manual"`
}

// EventRequest delivers a named event to a saved workflow.
type EventRequest struct {
	Name       string         `json:"name"        binding:"required"`
	Payload    map[string]any `json:"payload"`
	AutoManual bool           `json:"auto_manual"`
}

type ResumeRequest struct {
	AutoManual bool `json:"auto_manual"`
}

// CompleteRequest runs a READY task, merging Data into it first.
type CompleteRequest struct {
	Data       map[string]any `json:"data"`
	AutoManual bool           `json:"auto_manual"`
}

type CancelRequest struct {
	Success bool `json:"success"`
}

type WorkflowListDTO struct {
	Workflows []string `json:"workflows"`
}

type ProcessListDTO struct {
	Processes []string `json:"processes"`
}

// WorkflowDTO is the API view of a workflow.
type WorkflowDTO = runner.Result
