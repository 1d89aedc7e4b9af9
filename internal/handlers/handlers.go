package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/compliance"
	"github.com/aegisshield/compliance-tracker/internal/escalation"
	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/models"
	"github.com/aegisshield/compliance-tracker/internal/policy"
	"github.com/aegisshield/compliance-tracker/internal/tracker"
)

// StatusHandler applies workflow-reported status changes
type StatusHandler interface {
	HandleStatusChange(ctx context.Context, change models.StatusChange) (*tracker.ChangeResult, error)
}

// SweepRunner runs sweeps on demand
type SweepRunner interface {
	RunNow(ctx context.Context) (*tracker.SweepReport, error)
	Last() (*tracker.SweepReport, error)
}

// Handler serves the compliance tracker HTTP API
type Handler struct {
	tracker     StatusHandler
	query       *compliance.Query
	escalations *escalation.Dispatcher
	policy      *policy.Service
	sweeps      SweepRunner
	stream      gin.HandlerFunc
	logger      *zap.Logger
	started     time.Time
}

// Deps lists what the handler serves from. Stream is optional.
type Deps struct {
	Tracker     StatusHandler
	Query       *compliance.Query
	Escalations *escalation.Dispatcher
	Policy      *policy.Service
	Sweeps      SweepRunner
	Stream      gin.HandlerFunc
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		tracker:     deps.Tracker,
		query:       deps.Query,
		escalations: deps.Escalations,
		policy:      deps.Policy,
		sweeps:      deps.Sweeps,
		stream:      deps.Stream,
		logger:      logger.Named("http"),
		started:     time.Now(),
	}
}

// RegisterRoutes registers the API under /api/v1 behind authentication
func (h *Handler) RegisterRoutes(router *gin.Engine, auth *middleware.Authenticator) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1", auth.Authenticate())
	{
		compliance := api.Group("/compliance")
		{
			compliance.GET("/dashboard", h.GetDashboard)
			compliance.GET("/export.xlsx", h.ExportXLSX)
		}

		escalations := api.Group("/escalations")
		{
			escalations.GET("", h.ListEscalations)
			escalations.GET("/:id", h.GetEscalation)
			escalations.POST("/:id/acknowledge", h.AcknowledgeEscalation)
			escalations.POST("/:id/resolve", h.ResolveEscalation)
			escalations.POST("/:id/reopen", middleware.RequireAdmin(), h.ReopenEscalation)
		}

		entities := api.Group("/entities")
		{
			entities.GET("/:id/sla", h.GetEntitySLA)
			entities.POST("/:id/transitions", h.RecordTransition)
		}

		cfg := api.Group("/config")
		{
			cfg.GET("/sla", h.ListSLAConfigs)
			cfg.GET("/sla/:status", h.GetSLAConfig)
			cfg.PUT("/sla/:status", middleware.RequireAdmin(), h.PutSLAConfig)
			cfg.DELETE("/sla/:status", middleware.RequireAdmin(), h.DeleteSLAConfig)

			cfg.GET("/rules", h.ListRules)
			cfg.GET("/rules/:id", h.GetRule)
			cfg.POST("/rules", middleware.RequireAdmin(), h.CreateRule)
			cfg.PUT("/rules/:id", middleware.RequireAdmin(), h.UpdateRule)
			cfg.DELETE("/rules/:id", middleware.RequireAdmin(), h.DeleteRule)
		}

		api.POST("/sweep", middleware.RequireAdmin(), h.RunSweep)
		api.GET("/sweep/last", h.LastSweep)

		if h.stream != nil {
			api.GET("/ws", h.stream)
		}
	}
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"status":    "healthy",
		"service":   "compliance-tracker",
		"uptime":    time.Since(h.started).String(),
		"timestamp": time.Now().UTC(),
	})
}
