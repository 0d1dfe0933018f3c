package handler

import (
	"net/http"

	"shotgun-exporter/internal/metrics"

	"github.com/gin-gonic/gin"
)

type MetricsHandler struct {
	metrics *metrics.Metrics
}

func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

func (h *MetricsHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/healthz", h.Healthz)
}

func (h *MetricsHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
