package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/services"
)

// JobHandler handles generation jobs
type JobHandler struct {
	jobs *services.JobManager
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs *services.JobManager) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Create validates a generation request and starts it in the background
func (h *JobHandler) Create(c *gin.Context) {
	var req services.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobs.Submit(req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job.Snapshot())
}

// List returns recent jobs, newest first
func (h *JobHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.List()})
}

// Get returns one job; the dashboard polls this for progress
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

// Cancel stops a queued or running job
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrJobFinished) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "job": job.Snapshot()})
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job.Snapshot())
}
