package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relister/backend/internal/application/core"
	"github.com/relister/backend/internal/domain/job"
)

// JobHandler handles action job API endpoints
type JobHandler struct {
	BaseHandler
	service *core.Service
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(service *core.Service) *JobHandler {
	return &JobHandler{service: service}
}

// RegisterRoutes mounts the job endpoints
func (h *JobHandler) RegisterRoutes(rg *gin.RouterGroup) {
	jobs := rg.Group("/jobs")
	jobs.POST("", h.SubmitJob)
	jobs.GET("/:id", h.GetJobStatus)
	jobs.DELETE("/:id", h.CancelJob)
}

// SubmitJobRequest represents a request to submit an action job
type SubmitJobRequest struct {
	Kind      string `json:"kind" binding:"required,actionkind" example:"PUBLISH"`
	ListingID string `json:"listing_id" binding:"omitempty,uuid" example:"7b0d7f0e-8a3a-4a1e-9a6e-5b1c2d3e4f50"`
	// AccountID pins the job to one account; empty means any eligible
	AccountID string            `json:"account_id" binding:"omitempty,uuid"`
	DedupKey  string            `json:"dedup_key" binding:"max=200"`
	Payload   map[string]string `json:"payload"`
}

// SubmitJobResponse carries the ID of the accepted job
type SubmitJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// SubmitJob godoc
// @ID           submitJob
// @Summary      Submit an action job
// @Description  Validates and enqueues an action job for asynchronous execution
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        request body SubmitJobRequest true "Job submission"
// @Success      201 {object} dto.Response
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /jobs [post]
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if !h.BindJSON(c, &req) {
		return
	}

	submit := core.SubmitJobRequest{
		Kind:     job.Kind(req.Kind),
		DedupKey: req.DedupKey,
		Payload:  req.Payload,
	}
	if req.ListingID != "" {
		id, err := uuid.Parse(req.ListingID)
		if err != nil {
			h.BadRequest(c, "listing_id is not a valid UUID")
			return
		}
		submit.ListingID = id
	}
	if req.AccountID != "" {
		id, err := uuid.Parse(req.AccountID)
		if err != nil {
			h.BadRequest(c, "account_id is not a valid UUID")
			return
		}
		submit.AccountHint = &id
	}

	jobID, err := h.service.SubmitJob(c.Request.Context(), submit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, SubmitJobResponse{JobID: jobID})
}

// GetJobStatus godoc
// @ID           getJobStatus
// @Summary      Get job status
// @Description  Returns the current status, outcome and retry state of a job
// @Tags         jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /jobs/{id} [get]
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "job ID is not a valid UUID")
		return
	}

	status, err := h.service.GetJobStatus(c.Request.Context(), jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// CancelJob godoc
// @ID           cancelJob
// @Summary      Cancel a queued job
// @Description  Cancels a job that has not started executing yet
// @Tags         jobs
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      204
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /jobs/{id} [delete]
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "job ID is not a valid UUID")
		return
	}

	if err := h.service.CancelJob(c.Request.Context(), jobID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
