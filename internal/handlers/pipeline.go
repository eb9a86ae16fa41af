package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/services"
)

type PipelineHandler struct {
	log      *logger.Logger
	pipeline services.PipelineService
	status   services.StatusService
}

func NewPipelineHandler(log *logger.Logger, pipeline services.PipelineService, status services.StatusService) *PipelineHandler {
	return &PipelineHandler{
		log:      log.With("handler", "PipelineHandler"),
		pipeline: pipeline,
		status:   status,
	}
}

// POST /api/pipeline/batches/:number/process
// Manual trigger, mainly for re-running the current batch after a failed run.
func (h *PipelineHandler) ProcessBatch(c *gin.Context) {
	batchNumber, err := strconv.Atoi(c.Param("number"))
	if err != nil || batchNumber < 1 {
		RespondError(c, http.StatusBadRequest, "invalid_batch_number", fmt.Errorf("batch number must be a positive integer"))
		return
	}
	// The run takes minutes; a client disconnect must not cancel it mid-stage.
	result, err := h.pipeline.ProcessBatch(context.WithoutCancel(c.Request.Context()), batchNumber)
	if err != nil {
		RespondError(c, http.StatusConflict, "pipeline_failed", err)
		return
	}
	RespondOK(c, result)
}

// GET /api/pipeline/status
func (h *PipelineHandler) GetStatus(c *gin.Context) {
	view, err := h.status.BatchStatus(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	RespondOK(c, view)
}
