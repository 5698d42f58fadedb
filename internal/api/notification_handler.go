package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/internal/orchestrator"
	"beacon/internal/records"
	apperrors "beacon/pkg/errors"
	"beacon/pkg/models"
)

// NotificationHandler serves submission and record lookup endpoints.
type NotificationHandler struct {
	orchestrator *orchestrator.Service
	records      records.Repository
	logger       logger.Logger
}

func NewNotificationHandler(orch *orchestrator.Service, repo records.Repository, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		orchestrator: orch,
		records:      repo,
		logger:       log,
	}
}

// Submit accepts one notification event. Duplicates and rate-limit
// deferrals are reported in the body with a 200; only malformed requests
// and infrastructure failures get error statuses.
func (h *NotificationHandler) Submit(c *gin.Context) {
	var event models.NotificationEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithCause(err),
		))
		return
	}

	result, err := h.orchestrator.Submit(c.Request.Context(), event, "http")
	if err != nil {
		h.logger.WarnwCtx(c.Request.Context(), "Submission rejected",
			"error", err,
			"event_type", event.EventType,
		)
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}

	status := http.StatusAccepted
	if result.Duplicate || result.Deferred {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *NotificationHandler) Get(c *gin.Context) {
	record, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListDeadLetters returns recently dead-lettered records for operators.
func (h *NotificationHandler) ListDeadLetters(c *gin.Context) {
	limit := int64(constants.DefaultListLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
				apperrors.ErrValidation.WithDetail("field", "limit"),
			))
			return
		}
		limit = parsed
	}

	out, err := h.records.ListByStatus(c.Request.Context(), records.StatusDeadLetter, limit)
	if err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": out, "count": len(out)})
}
