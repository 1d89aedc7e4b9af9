package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GetDashboard returns the per-classification compliance summary
func (h *Handler) GetDashboard(c *gin.Context) {
	dashboard, err := h.query.Dashboard(c.Request.Context())
	if err != nil {
		h.failErr(c, err, "failed to compute dashboard")
		return
	}
	ok(c, http.StatusOK, gin.H{"dashboard": dashboard})
}

// ExportXLSX streams the compliance workbook
func (h *Handler) ExportXLSX(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.query.ExportXLSX(c.Request.Context(), &buf); err != nil {
		h.failErr(c, err, "failed to export compliance report")
		return
	}

	filename := fmt.Sprintf("compliance-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// GetEntitySLA returns the live SLA status, history and escalations of an entity
func (h *Handler) GetEntitySLA(c *gin.Context) {
	report, err := h.query.EntitySLA(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failErr(c, err, "failed to evaluate entity")
		return
	}
	ok(c, http.StatusOK, gin.H{"report": report})
}
