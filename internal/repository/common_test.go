package repository

import (
	"path/filepath"
	"testing"
	"time"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/database"
	"shotgun-exporter/internal/model"

	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"
)

func newTestPool(t *testing.T) *sqlitex.Pool {
	t.Helper()
	pool, err := database.InitDatabase(&config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "tickets_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func testTicket(id string) *model.Ticket {
	return &model.Ticket{
		TicketID:  model.FlexID(id),
		OrderID:   model.FlexID("order-" + id),
		ProductID: "product-1",
		EventID:   "77",
		EventName: "Summer Rave",
		Title:     "Early Bird",
		Status:    model.TicketStatusValid,
		Price:     25.50,
		Channel:   "online",
		OrderedAt: "2024-06-01T10:00:00Z",
		Payload:   []byte(`{"ticket_id":"` + id + `"}`),
	}
}

var testNow = time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
