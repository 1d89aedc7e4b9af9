package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunSweep evaluates every tracked entity now and returns the report
func (h *Handler) RunSweep(c *gin.Context) {
	report, err := h.sweeps.RunNow(c.Request.Context())
	if err != nil {
		h.failErr(c, err, "sweep failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"report": report})
}

// LastSweep returns the most recent sweep report
func (h *Handler) LastSweep(c *gin.Context) {
	report, err := h.sweeps.Last()
	body := gin.H{"report": report}
	if err != nil {
		body["last_error"] = err.Error()
	}
	ok(c, http.StatusOK, body)
}
