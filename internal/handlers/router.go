package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/metrics"
	"github.com/aegisshield/compliance-tracker/internal/middleware"
)

// NewRouter builds the gin engine with the standard middleware chain
func NewRouter(h *Handler, auth *middleware.Authenticator, collector *metrics.Collector, gatherer prometheus.Gatherer, production bool, logger *zap.Logger) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(logger.Named("access")))
	router.Use(middleware.Metrics(collector))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	h.RegisterRoutes(router, auth)
	return router
}
