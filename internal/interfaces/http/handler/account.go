package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relister/backend/internal/application/core"
)

// AccountHandler handles account pool API endpoints
type AccountHandler struct {
	BaseHandler
	service *core.Service
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service *core.Service) *AccountHandler {
	return &AccountHandler{service: service}
}

// RegisterRoutes mounts the account endpoints
func (h *AccountHandler) RegisterRoutes(rg *gin.RouterGroup) {
	accounts := rg.Group("/accounts")
	accounts.POST("", h.AddAccount)
	accounts.GET("/:id/health", h.GetAccountHealth)
	accounts.POST("/:id/quarantine", h.ForceQuarantine)
	accounts.POST("/:id/release", h.ReleaseAccount)
}

// AddAccountRequest represents a request to register a marketplace account
type AddAccountRequest struct {
	Alias string `json:"alias" binding:"required,min=1,max=100" example:"seller-main"`
	// SessionRef names the encrypted session blob in the credential vault
	SessionRef   string `json:"session_ref" binding:"required,min=1,max=200"`
	InitialScore int    `json:"initial_score" binding:"min=0,max=100" example:"70"`
}

// ForceQuarantineRequest represents a manual quarantine request
type ForceQuarantineRequest struct {
	// Duration is a Go duration string, e.g. "2h" or "30m"
	Duration string `json:"duration" binding:"required" example:"2h"`
}

// AddAccount godoc
// @ID           addAccount
// @Summary      Register a marketplace account
// @Description  Adds an account to the pool and activates it
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body AddAccountRequest true "Account registration"
// @Success      201 {object} dto.Response
// @Failure      400 {object} dto.Response
// @Router       /accounts [post]
func (h *AccountHandler) AddAccount(c *gin.Context) {
	var req AddAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	acct, err := h.service.AddAccount(c.Request.Context(), core.AddAccountRequest{
		Alias:        req.Alias,
		SessionRef:   req.SessionRef,
		InitialScore: req.InitialScore,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, acct)
}

// GetAccountHealth godoc
// @ID           getAccountHealth
// @Summary      Get account health
// @Description  Returns the trust score, status and quarantine state of an account
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /accounts/{id}/health [get]
func (h *AccountHandler) GetAccountHealth(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "account ID is not a valid UUID")
		return
	}

	health, err := h.service.GetAccountHealth(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, health)
}

// ForceQuarantine godoc
// @ID           forceQuarantineAccount
// @Summary      Force-quarantine an account
// @Description  Manually quarantines an account for the given duration
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id path string true "Account ID"
// @Param        request body ForceQuarantineRequest true "Quarantine duration"
// @Success      204
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /accounts/{id}/quarantine [post]
func (h *AccountHandler) ForceQuarantine(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "account ID is not a valid UUID")
		return
	}

	var req ForceQuarantineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		h.BadRequest(c, "duration must be a positive Go duration string")
		return
	}

	if err := h.service.ForceQuarantine(c.Request.Context(), accountID, duration); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// ReleaseAccount godoc
// @ID           releaseAccount
// @Summary      Release an account from quarantine
// @Description  Releases an account whose quarantine timer has elapsed
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      204
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /accounts/{id}/release [post]
func (h *AccountHandler) ReleaseAccount(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "account ID is not a valid UUID")
		return
	}

	if err := h.service.ReleaseAccount(c.Request.Context(), accountID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
