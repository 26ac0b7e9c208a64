package contact

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adirachman/wa-broadcast-api/internal/handler"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
)

type Handler struct {
	repo repository.ContactRepository
}

func NewHandler(repo repository.ContactRepository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	contacts := r.Group("/contacts")
	{
		contacts.PUT("", h.UpsertContact)
		contacts.GET("/:phone", h.GetContact)
	}
}

type upsertContactRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Platform string `json:"platform"`
}

func (h *Handler) UpsertContact(c *gin.Context) {
	var req upsertContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	contact := &model.Contact{
		Phone:    req.Phone,
		Name:     req.Name,
		Platform: req.Platform,
	}
	if err := h.repo.Upsert(c.Request.Context(), contact); err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(contact))
}

func (h *Handler) GetContact(c *gin.Context) {
	contact, err := h.repo.GetByPhone(c.Request.Context(), c.Param("phone"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}
	if contact == nil {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("contact not found"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(contact))
}
