package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/durable/internal/workflow"
)

// Handlers implements the admin surface's route callbacks.
type Handlers struct {
	registry *Registry
}

func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// ListWorkflows handles GET /workflows.
func (h *Handlers) ListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": h.registry.Workflows()})
}

// GetJob handles GET /workflows/:workflowID/jobs/:jobID.
func (h *Handlers) GetJob(c *gin.Context) {
	workflowID := c.Param("workflowID")
	jobID := c.Param("jobID")
	js, err := h.registry.JobSnapshot(c.Request.Context(), workflowID, jobID)
	if err != nil {
		status := http.StatusInternalServerError
		var unknown *workflow.UnknownWorkflow
		if errors.As(err, &unknown) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, js)
}

// PauseWorker handles POST /workflows/:workflowID/pause.
func (h *Handlers) PauseWorker(c *gin.Context) {
	workflowID := c.Param("workflowID")
	if err := h.registry.Pause(workflowID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": workflowID, "status": "paused"})
}

// StopWorker handles POST /workflows/:workflowID/stop.
func (h *Handlers) StopWorker(c *gin.Context) {
	workflowID := c.Param("workflowID")
	if err := h.registry.Stop(workflowID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": workflowID, "status": "stopped"})
}
