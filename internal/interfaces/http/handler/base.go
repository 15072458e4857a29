package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/relister/backend/internal/domain/account"
	"github.com/relister/backend/internal/domain/job"
	"github.com/relister/backend/internal/domain/listing"
	"github.com/relister/backend/internal/domain/shared"
	"github.com/relister/backend/internal/interfaces/http/dto"
	"github.com/relister/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// BindJSON binds the request body and, on failure, writes the error response.
// Field validation failures surface as ERR_VALIDATION; malformed bodies as
// ERR_INVALID_JSON. Returns false when binding failed.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.Error(c, dto.GetHTTPStatus(dto.ErrCodeValidation), dto.ErrCodeValidation, err.Error())
		} else {
			h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidJSON), dto.ErrCodeInvalidJSON, err.Error())
		}
		return false
	}
	return true
}

// sentinelCodes maps domain sentinel errors onto API error codes
var sentinelCodes = []struct {
	target error
	code   string
}{
	{job.ErrJobNotFound, dto.ErrCodeNotFound},
	{listing.ErrListingNotFound, dto.ErrCodeNotFound},
	{listing.ErrConflictNotFound, dto.ErrCodeNotFound},
	{account.ErrAccountNotFound, dto.ErrCodeNotFound},
	{job.ErrInvalidKind, dto.ErrCodeValidation},
	{job.ErrNotCancellable, dto.ErrCodeInvalidState},
	{job.ErrAlreadyTerminal, dto.ErrCodeInvalidState},
	{listing.ErrNotPublished, dto.ErrCodeInvalidState},
	{listing.ErrRemoteIDImmutable, dto.ErrCodeInvalidState},
	{account.ErrAccountBanned, dto.ErrCodeInvalidState},
	{account.ErrNotQuarantined, dto.ErrCodeInvalidState},
	{account.ErrQuarantineActive, dto.ErrCodeInvalidState},
}

// HandleError converts domain errors to HTTP responses. Unknown error types
// become opaque 500s; their detail stays in the logs.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	requestID := getRequestID(c)

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	for _, m := range sentinelCodes {
		if errors.Is(err, m.target) {
			c.JSON(dto.GetHTTPStatus(m.code), dto.NewErrorResponseWithRequestID(m.code, err.Error(), requestID))
			return
		}
	}

	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}
