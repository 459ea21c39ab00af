package runrouter

import (
	"net/http"

	"github.com/compozy/tasktree/engine/infra/server/router"
	"github.com/compozy/tasktree/engine/runner"
	"github.com/compozy/tasktree/engine/task"
	"github.com/gin-gonic/gin"
)

const workflowIDParam = "workflow_id"

// listProcesses handles GET /processes.
func listProcesses(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	router.RespondOK(c, "processes retrieved", ProcessListDTO{Processes: state.Definitions.Names()})
}

// startWorkflow handles POST /workflows.
func startWorkflow(c *gin.Context) {
	req := router.GetRequestBody[StartRequest](c)
	if req == nil {
		return
	}
	if req.Process == "" {
		reqErr := router.NewRequestError(http.StatusBadRequest, "process is required", nil)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	p, err := state.Definitions.Lookup(req.Process)
	if err != nil {
		reqErr := router.NewRequestError(http.StatusNotFound, "process not found", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	res, err := state.Runner.Start(c.Request.Context(), p, req.Data, runner.RunConfig{AutoManual: req.AutoManual})
	if err != nil {
		reqErr := router.WorkflowError("", "failed to start workflow", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	router.RespondCreated(c, "workflow started", res)
}

// listWorkflows handles GET /workflows.
func listWorkflows(c *gin.Context) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	ids, err := state.Runner.List(c.Request.Context())
	if err != nil {
		reqErr := router.WorkflowError("", "failed to list workflows", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	out := WorkflowListDTO{Workflows: make([]string, 0, len(ids))}
	for _, id := range ids {
		out.Workflows = append(out.Workflows, id.String())
	}
	router.RespondOK(c, "workflows retrieved", out)
}

// getWorkflow handles GET /workflows/{workflow_id}.
func getWorkflow(c *gin.Context) {
	id, ok := router.GetIDParam(c, workflowIDParam)
	if !ok {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	res, err := state.Runner.Get(c.Request.Context(), id)
	if err != nil {
		reqErr := router.WorkflowError(id.String(), "failed to load workflow", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	router.RespondOK(c, "workflow retrieved", res)
}

// deleteWorkflow handles DELETE /workflows/{workflow_id}.
func deleteWorkflow(c *gin.Context) {
	id, ok := router.GetIDParam(c, workflowIDParam)
	if !ok {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	if err := state.Runner.Delete(c.Request.Context(), id); err != nil {
		reqErr := router.WorkflowError(id.String(), "failed to delete workflow", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	c.Status(http.StatusNoContent)
}

// sendEvent handles POST /workflows/{workflow_id}/events.
func sendEvent(c *gin.Context) {
	id, ok := router.GetIDParam(c, workflowIDParam)
	if !ok {
		return
	}
	req := router.GetRequestBody[EventRequest](c)
	if req == nil {
		return
	}
	if req.Name == "" {
		reqErr := router.NewRequestError(http.StatusBadRequest, "event name is required", nil)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	ev := task.Event{Name: req.Name, Payload: req.Payload}
	res, err := state.Runner.Signal(c.Request.Context(), id, ev, runner.RunConfig{AutoManual: req.AutoManual})
	if err != nil {
		reqErr := router.WorkflowError(id.String(), "failed to deliver event", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	router.RespondAccepted(c, "event delivered", res)
}

// resumeWorkflow handles POST /workflows/{workflow_id}/resume.
func resumeWorkflow(c *gin.Context) {
	id, ok := router.GetIDParam(c, workflowIDParam)
	if !ok {
		return
	}
	req := router.GetRequestBody[ResumeRequest](c)
	if req == nil {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	res, err := state.Runner.Resume(c.Request.Context(), id, runner.RunConfig{AutoManual: req.AutoManual})
	if err != nil {
		reqErr := router.WorkflowError(id.String(), "failed to resume workflow", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	router.RespondOK(c, "workflow resumed", res)
}

// completeTask handles POST /workflows/{workflow_id}/tasks/{task_id}/complete.
func completeTask(c *gin.Context) {
	id, ok := router.GetIDParam(c, workflowIDParam)
	if !ok {
		return
	}
	taskID, ok := router.GetIDParam(c, "task_id")
	if !ok {
		return
	}
	req := router.GetRequestBody[CompleteRequest](c)
	if req == nil {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	rc := runner.RunConfig{AutoManual: req.AutoManual}
	res, err := state.Runner.CompleteTask(c.Request.Context(), id, taskID, req.Data, rc)
	if err != nil {
		reqErr := router.WorkflowError(id.String(), "failed to complete task", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	router.RespondOK(c, "task completed", res)
}

// cancelWorkflow handles POST /workflows/{workflow_id}/cancel.
func cancelWorkflow(c *gin.Context) {
	id, ok := router.GetIDParam(c, workflowIDParam)
	if !ok {
		return
	}
	req := router.GetRequestBody[CancelRequest](c)
	if req == nil {
		return
	}
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	res, err := state.Runner.Cancel(c.Request.Context(), id, req.Success)
	if err != nil {
		reqErr := router.WorkflowError(id.String(), "failed to cancel workflow", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	router.RespondOK(c, "workflow cancelled", res)
}
