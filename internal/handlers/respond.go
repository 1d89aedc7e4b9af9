package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/models"
	"github.com/aegisshield/compliance-tracker/internal/scheduler"
)

func ok(c *gin.Context, status int, body gin.H) {
	body["success"] = true
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownEntity),
		errors.Is(err, models.ErrUnknownEvent),
		errors.Is(err, models.ErrUnknownRule):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyAcknowledged),
		errors.Is(err, models.ErrAlreadyResolved),
		errors.Is(err, models.ErrNotResolved),
		errors.Is(err, models.ErrAlreadyReopened),
		errors.Is(err, models.ErrEventExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrMisconfiguredSLA):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failErr writes err with its mapped status. Internal errors are logged and
// reported without detail.
func (h *Handler) failErr(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		fail(c, status, msg)
		return
	}
	fail(c, status, err.Error())
}
