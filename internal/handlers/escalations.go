package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

const maxListLimit = 1000

// ListEscalations lists events, filtered by status, entity_id and rule_id
func (h *Handler) ListEscalations(c *gin.Context) {
	filter := models.EventFilter{
		EntityID: c.Query("entity_id"),
		RuleID:   c.Query("rule_id"),
	}

	if raw := c.Query("status"); raw != "" {
		state, valid := models.ParseEventState(raw)
		if !valid {
			fail(c, http.StatusBadRequest, "status must be open, acknowledged or resolved")
			return
		}
		filter.State = state
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			fail(c, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		filter.Limit = limit
	}

	events, err := h.query.Escalations(c.Request.Context(), filter)
	if err != nil {
		h.failErr(c, err, "failed to list escalations")
		return
	}
	ok(c, http.StatusOK, gin.H{"escalations": events, "count": len(events)})
}

// GetEscalation returns one event
func (h *Handler) GetEscalation(c *gin.Context) {
	ev, err := h.escalations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err, "failed to get escalation")
		return
	}
	ok(c, http.StatusOK, gin.H{"escalation": ev})
}

// AcknowledgeEscalation marks the event as owned by the caller
func (h *Handler) AcknowledgeEscalation(c *gin.Context) {
	ev, err := h.escalations.Acknowledge(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c))
	if err != nil {
		h.failErr(c, err, "failed to acknowledge escalation")
		return
	}
	ok(c, http.StatusOK, gin.H{"escalation": ev})
}

type resolveRequest struct {
	Notes *string `json:"notes"`
}

// ResolveEscalation closes the event with optional notes
func (h *Handler) ResolveEscalation(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := h.escalations.Resolve(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c), req.Notes)
	if err != nil {
		h.failErr(c, err, "failed to resolve escalation")
		return
	}
	ok(c, http.StatusOK, gin.H{"escalation": ev})
}

// ReopenEscalation supersedes a resolved event so its occupancy may escalate again
func (h *Handler) ReopenEscalation(c *gin.Context) {
	ev, err := h.escalations.Reopen(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c))
	if err != nil {
		h.failErr(c, err, "failed to reopen escalation")
		return
	}
	ok(c, http.StatusOK, gin.H{"escalation": ev})
}
