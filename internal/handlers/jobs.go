package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/selimacar/facetrack-backend/internal/repos"
)

type JobsHandler struct {
	jobs repos.TrainingJobRepo
}

func NewJobsHandler(jobs repos.TrainingJobRepo) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(c.Request.Context(), nil, jobID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("no training job with id %s", jobID))
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs?type=train_model
func (h *JobsHandler) ListJobs(c *gin.Context) {
	jobs, err := h.jobs.ListByType(c.Request.Context(), nil, c.Query("type"), 50)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}
