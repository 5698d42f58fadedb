package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"beacon/internal/logger"
	"beacon/internal/routing"
	apperrors "beacon/pkg/errors"
)

// RoutingHandler serves rule and preference management endpoints.
type RoutingHandler struct {
	routing *routing.Service
	logger  logger.Logger
}

func NewRoutingHandler(svc *routing.Service, log logger.Logger) *RoutingHandler {
	return &RoutingHandler{routing: svc, logger: log}
}

func (h *RoutingHandler) CreateRule(c *gin.Context) {
	var rule routing.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithCause(err),
		))
		return
	}

	if err := h.routing.CreateRule(c.Request.Context(), &rule); err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *RoutingHandler) GetRule(c *gin.Context) {
	rule, err := h.routing.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RoutingHandler) ListRules(c *gin.Context) {
	rules, err := h.routing.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (h *RoutingHandler) UpdateRule(c *gin.Context) {
	var rule routing.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithCause(err),
		))
		return
	}
	rule.ID = c.Param("id")

	if err := h.routing.UpdateRule(c.Request.Context(), &rule); err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *RoutingHandler) DeleteRule(c *gin.Context) {
	if err := h.routing.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// ValidateRule checks an expression without persisting anything, so
// operators can test rules before enabling them.
func (h *RoutingHandler) ValidateRule(c *gin.Context) {
	var body struct {
		Expression string `json:"expression"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithCause(err),
		))
		return
	}

	if err := h.routing.ValidateExpression(body.Expression); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *RoutingHandler) UpsertPreference(c *gin.Context) {
	var pref routing.Preference
	if err := c.ShouldBindJSON(&pref); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
			apperrors.ErrValidation.WithCause(err),
		))
		return
	}
	pref.RecipientID = c.Param("recipient_id")

	if err := h.routing.UpsertPreference(c.Request.Context(), &pref); err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (h *RoutingHandler) ListPreferences(c *gin.Context) {
	prefs, err := h.routing.ListPreferences(c.Request.Context(), c.Param("recipient_id"))
	if err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs, "count": len(prefs)})
}

func (h *RoutingHandler) DeletePreference(c *gin.Context) {
	err := h.routing.DeletePreference(c.Request.Context(), c.Param("recipient_id"), c.Param("channel"))
	if err != nil {
		c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
		return
	}
	c.Status(http.StatusNoContent)
}
