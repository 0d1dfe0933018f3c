package reimport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/database"
	"shotgun-exporter/internal/model"
	"shotgun-exporter/internal/repository"
	apperrors "shotgun-exporter/pkg/app_errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLines(t *testing.T) {
	t.Run("Success - valid ticket emits sold, revenue and channel points", func(t *testing.T) {
		lines := BuildLines([]*model.Ticket{{
			TicketID:  "t-1",
			EventID:   "77",
			EventName: "Summer Rave",
			Title:     "Early Bird",
			Status:    "valid",
			Price:     25.5,
			Channel:   "online",
			OrderedAt: "2024-06-01T10:00:00Z",
		}})

		orderedMs := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
		require.Len(t, lines, 3)
		assert.Contains(t, lines, `shotgun_tickets_sold_total{event_id="77",event_name="Summer Rave",ticket_title="Early Bird"} 1 `+msString(orderedMs))
		assert.Contains(t, lines, `shotgun_tickets_revenue_euros_total{event_id="77",event_name="Summer Rave",ticket_title="Early Bird"} 25.5 `+msString(orderedMs))
		assert.Contains(t, lines, `shotgun_tickets_by_channel_total{event_id="77",event_name="Summer Rave",channel="online"} 1 `+msString(orderedMs))
	})

	t.Run("Success - refund stamped at cancellation time", func(t *testing.T) {
		lines := BuildLines([]*model.Ticket{{
			TicketID:    "t-2",
			EventID:     "77",
			EventName:   "Summer Rave",
			Title:       "Early Bird",
			Status:      "refunded",
			OrderedAt:   "2024-06-01T10:00:00Z",
			CancelledAt: "2024-06-05T09:00:00Z",
		}})

		cancelledMs := time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC).UnixMilli()
		require.Len(t, lines, 1)
		assert.True(t, strings.HasSuffix(lines[0], msString(cancelledMs)), lines[0])
		assert.True(t, strings.HasPrefix(lines[0], "shotgun_tickets_refunded_total{"), lines[0])
	})

	t.Run("Success - refund falls back to order time", func(t *testing.T) {
		lines := BuildLines([]*model.Ticket{{
			TicketID:  "t-3",
			EventID:   "77",
			EventName: "Summer Rave",
			Status:    "canceled",
			OrderedAt: "2024-06-01T10:00:00Z",
		}})

		orderedMs := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
		require.Len(t, lines, 1)
		assert.True(t, strings.HasSuffix(lines[0], msString(orderedMs)), lines[0])
	})

	t.Run("Success - redeemed ticket adds a scan point", func(t *testing.T) {
		lines := BuildLines([]*model.Ticket{{
			TicketID:   "t-4",
			EventID:    "77",
			EventName:  "Summer Rave",
			Status:     "valid",
			OrderedAt:  "2024-06-01T10:00:00Z",
			RedeemedAt: "2024-06-15T21:30:00Z",
		}})

		scanMs := time.Date(2024, 6, 15, 21, 30, 0, 0, time.UTC).UnixMilli()
		require.Len(t, lines, 4)
		assert.Contains(t, lines, `shotgun_tickets_scanned_total{event_id="77",event_name="Summer Rave"} 1 `+msString(scanMs))
	})

	t.Run("Success - label values are escaped", func(t *testing.T) {
		lines := BuildLines([]*model.Ticket{{
			TicketID:  "t-5",
			EventID:   "77",
			EventName: `Club "Nuit" \ Paris`,
			Title:     "GA",
			Status:    "valid",
			OrderedAt: "2024-06-01T10:00:00Z",
		}})

		require.NotEmpty(t, lines)
		assert.Contains(t, lines[0], `event_name="Club \"Nuit\" \\ Paris"`)
	})

	t.Run("Success - ticket without order time is skipped", func(t *testing.T) {
		lines := BuildLines([]*model.Ticket{{
			TicketID: "t-6",
			EventID:  "77",
			Status:   "valid",
		}})
		assert.Empty(t, lines)
	})
}

func msString(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

func newReimportFixture(t *testing.T) *Service {
	t.Helper()
	pool, err := database.InitDatabase(&config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "reimport_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	tickets := repository.NewTicketRepository(pool)
	ctx := context.Background()
	conn, err := pool.Take(ctx)
	require.NoError(t, err)
	defer pool.Put(conn)

	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	for _, ticket := range []*model.Ticket{
		{TicketID: "t-1", EventID: "77", EventName: "Summer Rave", Title: "Early Bird", Status: "valid", Price: 25, Channel: "online", OrderedAt: "2024-06-01T10:00:00Z", Payload: []byte(`{}`)},
		{TicketID: "t-2", EventID: "77", EventName: "Summer Rave", Title: "Early Bird", Status: "refunded", Price: 25, Channel: "online", OrderedAt: "2024-06-02T10:00:00Z", CancelledAt: "2024-06-03T10:00:00Z", Payload: []byte(`{}`)},
	} {
		require.NoError(t, tickets.InsertTx(conn, ticket, now))
	}

	return NewService(tickets, "http://placeholder.invalid")
}

func TestReimportEvent(t *testing.T) {
	t.Run("Success - dry run generates lines without touching the server", func(t *testing.T) {
		svc := newReimportFixture(t)
		// The placeholder URL would fail any request; a dry run must not
		// make one.
		result, err := svc.ReimportEvent(context.Background(), "77", true)
		require.NoError(t, err)

		assert.Equal(t, "77", result.EventID)
		assert.Equal(t, "Summer Rave", result.EventName)
		assert.Len(t, result.Lines, 4)
		assert.False(t, result.Imported)
	})

	t.Run("Success - deletes series then imports lines", func(t *testing.T) {
		var mu sync.Mutex
		var deletes []string
		var imported string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			switch r.URL.Path {
			case "/api/v1/admin/tsdb/delete_series":
				deletes = append(deletes, r.URL.Query().Get("match[]"))
				w.WriteHeader(http.StatusNoContent)
			case "/api/v1/import/prometheus":
				body, _ := io.ReadAll(r.Body)
				imported = string(body)
				w.WriteHeader(http.StatusNoContent)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		svc := newReimportFixture(t)
		svc.vmURL = server.URL

		result, err := svc.ReimportEvent(context.Background(), "77", false)
		require.NoError(t, err)
		assert.True(t, result.Imported)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, deletes, len(exportedMetrics))
		assert.Contains(t, deletes, `shotgun_tickets_sold_total{event_id="77"}`)
		assert.Contains(t, deletes, `shotgun_tickets_refunded_total{event_id="77"}`)
		assert.Contains(t, imported, "shotgun_tickets_sold_total{")
		assert.Contains(t, imported, "shotgun_tickets_refunded_total{")
	})

	t.Run("Failed - unknown event", func(t *testing.T) {
		svc := newReimportFixture(t)
		_, err := svc.ReimportEvent(context.Background(), "999", true)
		assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
	})

	t.Run("Failed - delete failure aborts before import", func(t *testing.T) {
		var importCalled atomic.Bool
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v1/import/prometheus" {
				importCalled.Store(true)
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		svc := newReimportFixture(t)
		svc.vmURL = server.URL

		_, err := svc.ReimportEvent(context.Background(), "77", false)
		require.Error(t, err)
		assert.False(t, importCalled.Load())
	})
}
