package runrouter

import "github.com/gin-gonic/gin"

func Register(apiBase *gin.RouterGroup) {
	// GET /api/v0/processes
	// List loaded process definitions
	apiBase.GET("/processes", listProcesses)

	workflowsGroup := apiBase.Group("/workflows")
	{
		// POST /api/v0/workflows
		// Start a workflow
		workflowsGroup.POST("", startWorkflow)

		// GET /api/v0/workflows
		// List saved workflows
		workflowsGroup.GET("", listWorkflows)

		// GET /api/v0/workflows/:workflow_id
		// Get a saved workflow
		workflowsGroup.GET("/:workflow_id", getWorkflow)

		// DELETE /api/v0/workflows/:workflow_id
		workflowsGroup.DELETE("/:workflow_id", deleteWorkflow)

		// POST /api/v0/workflows/:workflow_id/events
		// Deliver an event and continue the workflow
		workflowsGroup.POST("/:workflow_id/events", sendEvent)

		// POST /api/v0/workflows/:workflow_id/resume
		workflowsGroup.POST("/:workflow_id/resume", resumeWorkflow)

		// POST /api/v0/workflows/:workflow_id/tasks/:task_id/complete
		// Run a READY task, usually a manual one
		workflowsGroup.POST("/:workflow_id/tasks/:task_id/complete", completeTask)

		// POST /api/v0/workflows/:workflow_id/cancel
		workflowsGroup.POST("/:workflow_id/cancel", cancelWorkflow)
	}
}
