package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

type transitionRequest struct {
	NewStatus string                 `json:"new_status" binding:"required"`
	Reason    *string                `json:"reason"`
	Notes     *string                `json:"notes"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// RecordTransition accepts a status change pushed by the workflow
func (h *Handler) RecordTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "new_status is required")
		return
	}

	status, err := models.ParseStatus(req.NewStatus)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.tracker.HandleStatusChange(c.Request.Context(), models.StatusChange{
		EntityID:  c.Param("id"),
		NewStatus: status,
		Actor:     middleware.ActorFrom(c),
		Reason:    req.Reason,
		Notes:     req.Notes,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.failErr(c, err, "failed to record transition")
		return
	}
	ok(c, http.StatusCreated, gin.H{"result": result})
}
