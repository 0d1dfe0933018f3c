package handler

import (
	"net/http"

	"shotgun-exporter/internal/repository"
	"shotgun-exporter/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EventHandler serves the events known to the local cache. Operators and
// the reimport tool use it to see what the exporter has accumulated.
type EventHandler struct {
	tickets repository.TicketRepository
}

func NewEventHandler(tickets repository.TicketRepository) *EventHandler {
	return &EventHandler{tickets: tickets}
}

func (h *EventHandler) RegisterRoutes(r *gin.Engine) {
	router := r.Group("/api/v1")
	{
		router.GET("events", h.List)
	}
}

func (h *EventHandler) List(c *gin.Context) {
	summaries, err := h.tickets.ListEventSummaries(c)
	if err != nil {
		logger.WithComponent("event_handler").Error("listing events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}
