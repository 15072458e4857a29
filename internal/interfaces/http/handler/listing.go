package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relister/backend/internal/application/core"
	"github.com/relister/backend/internal/domain/listing"
)

// ListingHandler handles local listing record API endpoints
type ListingHandler struct {
	BaseHandler
	service *core.Service
}

// NewListingHandler creates a new ListingHandler
func NewListingHandler(service *core.Service) *ListingHandler {
	return &ListingHandler{service: service}
}

// RegisterRoutes mounts the listing endpoints
func (h *ListingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	listings := rg.Group("/listings")
	listings.POST("", h.CreateListing)
	listings.GET("/:id", h.GetListing)
	listings.PUT("/:id", h.EditListing)
	listings.POST("/:id/sync", h.RequestSync)
}

// ListingContentRequest represents listing content supplied by the caller
type ListingContentRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200" example:"Vintage film camera"`
	Description string `json:"description" binding:"max=5000"`
	Price       string `json:"price" binding:"required" example:"49.90"`
	// ImageKeys reference previously uploaded photos in the image store
	ImageKeys []string `json:"image_keys" binding:"max=20"`
}

// toContent converts the request body to domain content
func (r *ListingContentRequest) toContent() (listing.Content, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return listing.Content{}, err
	}
	return listing.Content{
		Title:       r.Title,
		Description: r.Description,
		Price:       price,
		ImageKeys:   r.ImageKeys,
	}, nil
}

// CreateListing godoc
// @ID           createListing
// @Summary      Create a listing record
// @Description  Stores finalized listing content locally; publishing is a separate job
// @Tags         listings
// @Accept       json
// @Produce      json
// @Param        request body ListingContentRequest true "Listing content"
// @Success      201 {object} dto.Response
// @Failure      400 {object} dto.Response
// @Router       /listings [post]
func (h *ListingHandler) CreateListing(c *gin.Context) {
	var req ListingContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	content, err := req.toContent()
	if err != nil {
		h.BadRequest(c, "price is not a valid decimal")
		return
	}

	created, err := h.service.CreateListing(c.Request.Context(), content)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, created)
}

// GetListing godoc
// @ID           getListing
// @Summary      Get a listing record
// @Description  Returns the local record including sync state
// @Tags         listings
// @Produce      json
// @Param        id path string true "Listing ID"
// @Success      200 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /listings/{id} [get]
func (h *ListingHandler) GetListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "listing ID is not a valid UUID")
		return
	}

	found, err := h.service.GetListing(c.Request.Context(), listingID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, found)
}

// EditListing godoc
// @ID           editListing
// @Summary      Edit a listing record
// @Description  Replaces the content and flags the pending edit for reconciliation
// @Tags         listings
// @Accept       json
// @Produce      json
// @Param        id path string true "Listing ID"
// @Param        request body ListingContentRequest true "Replacement content"
// @Success      200 {object} dto.Response
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /listings/{id} [put]
func (h *ListingHandler) EditListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "listing ID is not a valid UUID")
		return
	}

	var req ListingContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	content, err := req.toContent()
	if err != nil {
		h.BadRequest(c, "price is not a valid decimal")
		return
	}

	updated, err := h.service.EditListing(c.Request.Context(), listingID, content)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, updated)
}

// RequestSync godoc
// @ID           requestListingSync
// @Summary      Request a sync for a listing
// @Description  Enqueues a remote read so the reconciler can compare states
// @Tags         listings
// @Produce      json
// @Param        id path string true "Listing ID"
// @Success      202
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /listings/{id}/sync [post]
func (h *ListingHandler) RequestSync(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "listing ID is not a valid UUID")
		return
	}

	if err := h.service.RequestSync(c.Request.Context(), listingID); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(202)
}
