package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/adirachman/wa-broadcast-api/internal/repository"
)

type Handler struct {
	db        *sqlx.DB
	queueRepo repository.QueueRepository
}

func NewHandler(db *sqlx.DB, queueRepo repository.QueueRepository) *Handler {
	return &Handler{db: db, queueRepo: queueRepo}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "database connection failed",
		})
		return
	}

	pending, err := h.queueRepo.CountPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "queue unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "UP", "queue_depth": pending})
}
