package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relister/backend/internal/application/core"
	"github.com/relister/backend/internal/domain/listing"
)

// ConflictHandler handles sync conflict API endpoints
type ConflictHandler struct {
	BaseHandler
	service *core.Service
}

// NewConflictHandler creates a new ConflictHandler
func NewConflictHandler(service *core.Service) *ConflictHandler {
	return &ConflictHandler{service: service}
}

// RegisterRoutes mounts the conflict endpoints
func (h *ConflictHandler) RegisterRoutes(rg *gin.RouterGroup) {
	conflicts := rg.Group("/conflicts")
	conflicts.GET("", h.ListUnresolved)
	conflicts.POST("/:id/resolve", h.Resolve)
}

// ResolveConflictRequest represents a manual conflict decision
type ResolveConflictRequest struct {
	Resolution string `json:"resolution" binding:"required,oneof=LOCAL_WINS REMOTE_WINS" example:"LOCAL_WINS"`
}

// ListUnresolved godoc
// @ID           listUnresolvedConflicts
// @Summary      List unresolved sync conflicts
// @Description  Returns all conflicts awaiting a manual decision
// @Tags         conflicts
// @Produce      json
// @Success      200 {object} dto.Response
// @Router       /conflicts [get]
func (h *ConflictHandler) ListUnresolved(c *gin.Context) {
	conflicts, err := h.service.ListUnresolvedConflicts(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conflicts)
}

// Resolve godoc
// @ID           resolveConflict
// @Summary      Resolve a sync conflict
// @Description  Applies a manual local-wins or remote-wins decision
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        id path string true "Conflict ID"
// @Param        request body ResolveConflictRequest true "Decision"
// @Success      204
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /conflicts/{id}/resolve [post]
func (h *ConflictHandler) Resolve(c *gin.Context) {
	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "conflict ID is not a valid UUID")
		return
	}

	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if err := h.service.ResolveConflict(c.Request.Context(), conflictID, listing.Resolution(req.Resolution)); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
