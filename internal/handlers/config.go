package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

// ListSLAConfigs returns every SLA configuration
func (h *Handler) ListSLAConfigs(c *gin.Context) {
	configs, err := h.policy.SLAConfigs(c.Request.Context())
	if err != nil {
		h.failErr(c, err, "failed to list sla configurations")
		return
	}
	ok(c, http.StatusOK, gin.H{"configurations": configs, "count": len(configs)})
}

// GetSLAConfig returns the configuration for one status
func (h *Handler) GetSLAConfig(c *gin.Context) {
	status, valid := h.pathStatus(c)
	if !valid {
		return
	}

	cfg, err := h.policy.SLAConfig(c.Request.Context(), status)
	if err != nil {
		h.failErr(c, err, "failed to get sla configuration")
		return
	}
	if cfg == nil {
		fail(c, http.StatusNotFound, fmt.Sprintf("no sla configuration for %s", status))
		return
	}
	ok(c, http.StatusOK, gin.H{"configuration": cfg})
}

// PutSLAConfig creates or replaces the configuration for the path status
func (h *Handler) PutSLAConfig(c *gin.Context) {
	status, valid := h.pathStatus(c)
	if !valid {
		return
	}

	var cfg models.SLAConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.Status = status

	saved, err := h.policy.SaveSLAConfig(c.Request.Context(), cfg, middleware.ActorFrom(c))
	if err != nil {
		h.failErr(c, err, "failed to save sla configuration")
		return
	}
	ok(c, http.StatusOK, gin.H{"configuration": saved})
}

// DeleteSLAConfig stops monitoring the path status
func (h *Handler) DeleteSLAConfig(c *gin.Context) {
	status, valid := h.pathStatus(c)
	if !valid {
		return
	}
	if err := h.policy.DeleteSLAConfig(c.Request.Context(), status); err != nil {
		h.failErr(c, err, "failed to delete sla configuration")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": status})
}

// ListRules returns every escalation rule
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.policy.Rules(c.Request.Context())
	if err != nil {
		h.failErr(c, err, "failed to list escalation rules")
		return
	}
	ok(c, http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// GetRule returns one escalation rule
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.policy.Rule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err, "failed to get escalation rule")
		return
	}
	ok(c, http.StatusOK, gin.H{"rule": rule})
}

// CreateRule validates and stores a new rule
func (h *Handler) CreateRule(c *gin.Context) {
	var rule models.EscalationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.policy.CreateRule(c.Request.Context(), rule, middleware.ActorFrom(c))
	if err != nil {
		h.failErr(c, err, "failed to create escalation rule")
		return
	}
	ok(c, http.StatusCreated, gin.H{"rule": created})
}

// UpdateRule replaces the rule at the path ID
func (h *Handler) UpdateRule(c *gin.Context) {
	var rule models.EscalationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	rule.ID = c.Param("id")

	updated, err := h.policy.UpdateRule(c.Request.Context(), rule, middleware.ActorFrom(c))
	if err != nil {
		h.failErr(c, err, "failed to update escalation rule")
		return
	}
	ok(c, http.StatusOK, gin.H{"rule": updated})
}

// DeleteRule removes a rule. Events it already created are kept.
func (h *Handler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := h.policy.DeleteRule(c.Request.Context(), id); err != nil {
		h.failErr(c, err, "failed to delete escalation rule")
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id})
}

func (h *Handler) pathStatus(c *gin.Context) (models.Status, bool) {
	status, err := models.ParseStatus(c.Param("status"))
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, fmt.Errorf("%w: %v", models.ErrMisconfiguredSLA, err).Error())
		return "", false
	}
	return status, true
}
