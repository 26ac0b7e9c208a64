package schedule

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/handler"
	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
	scheduleService "github.com/adirachman/wa-broadcast-api/internal/service/schedule"
	"github.com/adirachman/wa-broadcast-api/internal/service/scheduler"
	"github.com/adirachman/wa-broadcast-api/pkg/logger"
)

type Handler struct {
	service    scheduleService.Servicer
	scheduler  *scheduler.Service
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
}

func NewHandler(service scheduleService.Servicer, sched *scheduler.Service, outboxRepo repository.OutboxRepository, log *logger.Logger) *Handler {
	return &Handler{service: service, scheduler: sched, outboxRepo: outboxRepo, logger: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	schedules := r.Group("/schedules")
	{
		schedules.POST("", h.CreateSchedule)
		schedules.GET("", h.ListSchedules)
		schedules.GET("/:id", h.GetSchedule)
		schedules.PUT("/:id", h.UpdateSchedule)
		schedules.DELETE("/:id", h.DeleteSchedule)
		schedules.POST("/:id/pause", h.PauseSchedule)
		schedules.POST("/:id/resume", h.ResumeSchedule)
		schedules.POST("/:id/run", h.RunSchedule)
	}
}

type createScheduleRequest struct {
	Name              string            `json:"name" binding:"required"`
	TemplateID        string            `json:"template_id" binding:"required"`
	ScheduleType      string            `json:"schedule_type" binding:"required,oneof=once recurring"`
	RunAt             *time.Time        `json:"run_at"`
	CronExpr          *string           `json:"cron_expr"`
	StartAt           *time.Time        `json:"start_at"`
	EndAt             *time.Time        `json:"end_at"`
	Session           string            `json:"session" binding:"required"`
	BatchSize         int               `json:"batch_size"`
	BatchDelaySeconds int               `json:"batch_delay_seconds"`
	DailyLimit        *int              `json:"daily_limit"`
	Params            map[string]string `json:"params"`
	Recipients        []string          `json:"recipients" binding:"required,min=1"`
}

func (h *Handler) CreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid template ID"))
		return
	}

	sched := &model.Schedule{
		Name:              req.Name,
		TemplateID:        templateID,
		ScheduleType:      model.ScheduleType(req.ScheduleType),
		RunAt:             req.RunAt,
		CronExpr:          req.CronExpr,
		StartAt:           req.StartAt,
		EndAt:             req.EndAt,
		Session:           req.Session,
		BatchSize:         req.BatchSize,
		BatchDelaySeconds: req.BatchDelaySeconds,
		DailyLimit:        req.DailyLimit,
		Params:            req.Params,
		Recipients:        req.Recipients,
		Status:            model.ScheduleStatusPending,
	}

	if err := h.service.Create(c.Request.Context(), sched); err != nil {
		handler.RespondError(c, err)
		return
	}

	if err := h.scheduler.Register(sched); err != nil {
		h.logger.Error(err, "failed to register schedule", "schedule_id", sched.ID.String())
	}
	h.emitEvent(c, model.EventScheduleActivated, sched)

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(sched))
}

func (h *Handler) GetSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule ID"))
		return
	}

	sched, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(sched))
}

// UpdateSchedule edits a non-terminal schedule. Batch size, delay and
// recipients are fixed at creation and silently ignored here; the persisted
// schedule is re-registered so trigger changes take effect.
func (h *Handler) UpdateSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule ID"))
		return
	}

	existing, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	var sched model.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	sched.ID = id
	sched.BatchSize = existing.BatchSize
	sched.BatchDelaySeconds = existing.BatchDelaySeconds
	sched.Recipients = existing.Recipients

	if err := h.service.Update(c.Request.Context(), &sched); err != nil {
		handler.RespondError(c, err)
		return
	}

	if err := h.scheduler.Register(&sched); err != nil {
		h.logger.Error(err, "failed to re-register schedule", "schedule_id", id.String())
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(sched))
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule ID"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	h.scheduler.Cancel(id)

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) PauseSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule ID"))
		return
	}

	if err := h.service.Pause(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	h.scheduler.Cancel(id)

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) ResumeSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule ID"))
		return
	}

	sched, err := h.service.Resume(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	if err := h.scheduler.Register(sched); err != nil {
		h.logger.Error(err, "failed to re-register schedule", "schedule_id", id.String())
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(sched))
}

// RunSchedule fires the next batch cycle immediately. If a run is already
// executing the fire is skipped, same as an overlapping timer fire.
func (h *Handler) RunSchedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule ID"))
		return
	}

	sched, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if sched.Status.IsTerminal() {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("schedule is already terminal"))
		return
	}

	h.scheduler.RunNow(id)
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"schedule_id": id}))
}

func (h *Handler) ListSchedules(c *gin.Context) {
	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	status := model.ScheduleStatus(c.Query("status"))

	schedules, err := h.service.List(c.Request.Context(), status, page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(schedules))
}

func (h *Handler) emitEvent(c *gin.Context, eventType string, sched *model.Schedule) {
	payload, err := json.Marshal(sched)
	if err != nil {
		h.logger.Error(err, "failed to marshal schedule for event")
		return
	}
	if err := h.outboxRepo.Create(c.Request.Context(), &model.OutboxEvent{
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		h.logger.Error(err, "failed to create outbox event", "event_type", eventType)
	}
}
