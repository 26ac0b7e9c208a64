package template

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/handler"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
)

type Handler struct {
	repo repository.TemplateRepository
}

func NewHandler(repo repository.TemplateRepository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/templates")
	{
		templates.POST("", h.CreateTemplate)
		templates.GET("", h.ListTemplates)
		templates.GET("/:id", h.GetTemplate)
		templates.DELETE("/:id", h.DeleteTemplate)
	}
}

type createTemplateRequest struct {
	Name     string  `json:"name" binding:"required"`
	Body     string  `json:"body" binding:"required"`
	ImageRef *string `json:"image_ref"`
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	tmpl := &model.Template{
		Name:     req.Name,
		Body:     req.Body,
		ImageRef: req.ImageRef,
	}
	if err := h.repo.Create(c.Request.Context(), tmpl); err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(tmpl))
}

func (h *Handler) GetTemplate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid template ID"))
		return
	}

	tmpl, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}
	if tmpl == nil {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("template not found"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(tmpl))
}

func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.repo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(templates))
}

func (h *Handler) DeleteTemplate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid template ID"))
		return
	}

	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}
