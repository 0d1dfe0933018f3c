package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/database"
	"shotgun-exporter/internal/metrics"
	"shotgun-exporter/internal/model"
	"shotgun-exporter/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *metrics.Metrics, repository.TicketRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool, err := database.InitDatabase(&config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "handler_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	m := metrics.NewMetrics()
	tickets := repository.NewTicketRepository(pool)

	router := gin.New()
	NewMetricsHandler(m).RegisterRoutes(router)
	NewEventHandler(tickets).RegisterRoutes(router)

	ctx := context.Background()
	conn, err := pool.Take(ctx)
	require.NoError(t, err)
	defer pool.Put(conn)
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	for _, ticket := range []*model.Ticket{
		{TicketID: "t-1", EventID: "77", EventName: "Summer Rave", Title: "Early Bird", Status: "valid", Price: 25, Channel: "online", Payload: []byte(`{}`)},
		{TicketID: "t-2", EventID: "77", EventName: "Summer Rave", Title: "Early Bird", Status: "valid", Price: 25, Channel: "online", Payload: []byte(`{}`)},
		{TicketID: "t-3", EventID: "42", EventName: "Autumn Gala", Title: "VIP", Status: "valid", Price: 90, Channel: "box_office", Payload: []byte(`{}`)},
	} {
		require.NoError(t, tickets.InsertTx(conn, ticket, now))
	}

	return router, m, tickets
}

func TestMetricsHandler(t *testing.T) {
	router, m, _ := newTestRouter(t)

	t.Run("Success - serves prometheus exposition", func(t *testing.T) {
		diff := metrics.NewDiff()
		diff.AddSold(
			metrics.TicketLabels{EventID: "77", EventName: "Summer Rave", Title: "Early Bird"},
			metrics.ChannelLabels{EventID: "77", EventName: "Summer Rave", Channel: "online"},
			25)
		m.ApplyDiff(diff)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `shotgun_tickets_sold_total{event_id="77",event_name="Summer Rave",ticket_title="Early Bird"} 1`)
		assert.Contains(t, body, "shotgun_tickets_revenue_euros_total")
		assert.Contains(t, body, "shotgun_last_scrape_timestamp")
	})

	t.Run("Success - healthz", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
}

func TestEventHandler_List(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var summaries []repository.EventSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)

	// Ordered by event name.
	assert.Equal(t, "Autumn Gala", summaries[0].EventName)
	assert.Equal(t, 1, summaries[0].TicketCount)
	assert.Equal(t, "Summer Rave", summaries[1].EventName)
	assert.Equal(t, 2, summaries[1].TicketCount)
}
