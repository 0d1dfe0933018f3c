package repository

import (
	"context"
	"fmt"
	"time"

	"shotgun-exporter/internal/model"
	apperrors "shotgun-exporter/pkg/app_errors"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// EventSummary is one event known to the local cache, with its ticket
// count. Backs the events listing endpoint and the reimport tool.
type EventSummary struct {
	EventID     string `json:"event_id"`
	EventName   string `json:"event_name"`
	TicketCount int    `json:"ticket_count"`
}

// Aggregate rows used to rebuild counter state from the persisted
// snapshot after a restart.
type SoldAggregate struct {
	EventID   string
	EventName string
	Title     string
	Count     int
	Revenue   float64
}

type ChannelAggregate struct {
	EventID   string
	EventName string
	Channel   string
	Count     int
}

type RefundAggregate struct {
	EventID   string
	EventName string
	Title     string
	Count     int
}

type ScanAggregate struct {
	EventID   string
	EventName string
	Count     int
}

type TicketRepository interface {
	FindByID(ctx context.Context, ticketID string) (*model.Ticket, error)
	ListIDs(ctx context.Context) (map[string]struct{}, error)
	Count(ctx context.Context) (int, error)
	ListEventSummaries(ctx context.Context) ([]EventSummary, error)
	ListByEventID(ctx context.Context, eventID string) ([]*model.Ticket, error)

	SoldAggregates(ctx context.Context) ([]SoldAggregate, error)
	ChannelAggregates(ctx context.Context) ([]ChannelAggregate, error)
	RefundAggregates(ctx context.Context) ([]RefundAggregate, error)
	ScanAggregates(ctx context.Context) ([]ScanAggregate, error)

	// Transaction methods. The caller owns the connection and the
	// enclosing transaction; one poll cycle is one transaction.
	GetTx(conn *sqlite.Conn, ticketID string) (*model.Ticket, error)
	InsertTx(conn *sqlite.Conn, ticket *model.Ticket, now time.Time) error
	UpdateTx(conn *sqlite.Conn, ticket *model.Ticket, now time.Time) error
	RecordStatusChangeTx(conn *sqlite.Conn, ticketID, oldStatus, newStatus string, now time.Time) error
}

type TicketRepositoryImpl struct {
	pool *sqlitex.Pool
}

func NewTicketRepository(pool *sqlitex.Pool) TicketRepository {
	return &TicketRepositoryImpl{pool: pool}
}

const ticketColumns = `ticket_id, order_id, product_id, event_id, event_name,
	ticket_title, ticket_status, ticket_price, channel, buyer_country,
	buyer_city, ordered_at, ticket_redeemed_at, cancelled_at, ticket_data,
	first_seen_at, last_updated_at`

func scanTicket(stmt *sqlite.Stmt) (*model.Ticket, error) {
	ticket := &model.Ticket{
		TicketID:     model.FlexID(stmt.ColumnText(0)),
		OrderID:      model.FlexID(stmt.ColumnText(1)),
		ProductID:    model.FlexID(stmt.ColumnText(2)),
		EventID:      model.FlexID(stmt.ColumnText(3)),
		EventName:    stmt.ColumnText(4),
		Title:        stmt.ColumnText(5),
		Status:       stmt.ColumnText(6),
		Price:        stmt.ColumnFloat(7),
		Channel:      stmt.ColumnText(8),
		BuyerCountry: stmt.ColumnText(9),
		BuyerCity:    stmt.ColumnText(10),
		OrderedAt:    stmt.ColumnText(11),
		RedeemedAt:   stmt.ColumnText(12),
		CancelledAt:  stmt.ColumnText(13),
		Payload:      []byte(stmt.ColumnText(14)),
	}
	firstSeen, err := time.Parse(time.RFC3339, stmt.ColumnText(15))
	if err != nil {
		return nil, fmt.Errorf("ticket %s: first_seen_at: %w", ticket.TicketID, err)
	}
	lastUpdated, err := time.Parse(time.RFC3339, stmt.ColumnText(16))
	if err != nil {
		return nil, fmt.Errorf("ticket %s: last_updated_at: %w", ticket.TicketID, err)
	}
	ticket.FirstSeenAt = firstSeen
	ticket.LastUpdatedAt = lastUpdated
	return ticket, nil
}

func (r *TicketRepositoryImpl) FindByID(ctx context.Context, ticketID string) (*model.Ticket, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)
	return r.GetTx(conn, ticketID)
}

func (r *TicketRepositoryImpl) GetTx(conn *sqlite.Conn, ticketID string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_id = ?`

	var ticket *model.Ticket
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{ticketID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var scanErr error
			ticket, scanErr = scanTicket(stmt)
			return scanErr
		},
	})
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, apperrors.ErrTicketNotFound
	}
	return ticket, nil
}

func (r *TicketRepositoryImpl) InsertTx(conn *sqlite.Conn, ticket *model.Ticket, now time.Time) error {
	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	ts := now.UTC().Format(time.RFC3339)
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{
			ticket.TicketID.String(), ticket.OrderID.String(), ticket.ProductID.String(),
			ticket.LabelEventID(), ticket.LabelEventName(),
			ticket.NormalizedTitle(), ticket.Status, ticket.Price,
			ticket.LabelChannel(), ticket.BuyerCountry, ticket.BuyerCity,
			ticket.OrderedAt, ticket.RedeemedAt, ticket.CancelledAt,
			string(ticket.Payload), ts, ts,
		},
	})
}

func (r *TicketRepositoryImpl) UpdateTx(conn *sqlite.Conn, ticket *model.Ticket, now time.Time) error {
	query := `
		UPDATE tickets SET
			event_name = ?, ticket_title = ?, ticket_status = ?,
			ticket_price = ?, channel = ?, ticket_redeemed_at = ?,
			cancelled_at = ?, ticket_data = ?, last_updated_at = ?
		WHERE ticket_id = ?
	`
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{
			ticket.LabelEventName(), ticket.NormalizedTitle(), ticket.Status,
			ticket.Price, ticket.LabelChannel(), ticket.RedeemedAt,
			ticket.CancelledAt, string(ticket.Payload),
			now.UTC().Format(time.RFC3339), ticket.TicketID.String(),
		},
	})
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return apperrors.ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepositoryImpl) RecordStatusChangeTx(conn *sqlite.Conn, ticketID, oldStatus, newStatus string, now time.Time) error {
	query := `
		INSERT INTO ticket_status_changes (ticket_id, old_status, new_status, changed_at)
		VALUES (?, ?, ?, ?)
	`
	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{ticketID, oldStatus, newStatus, now.UTC().Format(time.RFC3339)},
	})
}

func (r *TicketRepositoryImpl) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	ids := make(map[string]struct{})
	err = sqlitex.Execute(conn, `SELECT ticket_id FROM tickets`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids[stmt.ColumnText(0)] = struct{}{}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *TicketRepositoryImpl) Count(ctx context.Context) (int, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer r.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM tickets`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	return count, err
}

func (r *TicketRepositoryImpl) ListEventSummaries(ctx context.Context) ([]EventSummary, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := `
		SELECT event_id, event_name, COUNT(*)
		FROM tickets
		GROUP BY event_id, event_name
		ORDER BY event_name
	`

	summaries := make([]EventSummary, 0)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			summaries = append(summaries, EventSummary{
				EventID:     stmt.ColumnText(0),
				EventName:   stmt.ColumnText(1),
				TicketCount: stmt.ColumnInt(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *TicketRepositoryImpl) ListByEventID(ctx context.Context, eventID string) ([]*model.Ticket, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE event_id = ?
		ORDER BY first_seen_at
	`

	tickets := make([]*model.Ticket, 0)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{eventID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ticket, scanErr := scanTicket(stmt)
			if scanErr != nil {
				return scanErr
			}
			tickets = append(tickets, ticket)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, apperrors.ErrEventNotFound
	}
	return tickets, nil
}

func (r *TicketRepositoryImpl) SoldAggregates(ctx context.Context) ([]SoldAggregate, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := `
		SELECT event_id, event_name, ticket_title, COUNT(*), COALESCE(SUM(ticket_price), 0)
		FROM tickets
		WHERE ticket_status = 'valid'
		GROUP BY event_id, event_name, ticket_title
	`

	var rows []SoldAggregate
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, SoldAggregate{
				EventID:   stmt.ColumnText(0),
				EventName: stmt.ColumnText(1),
				Title:     stmt.ColumnText(2),
				Count:     stmt.ColumnInt(3),
				Revenue:   stmt.ColumnFloat(4),
			})
			return nil
		},
	})
	return rows, err
}

func (r *TicketRepositoryImpl) ChannelAggregates(ctx context.Context) ([]ChannelAggregate, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := `
		SELECT event_id, event_name, channel, COUNT(*)
		FROM tickets
		WHERE ticket_status = 'valid'
		GROUP BY event_id, event_name, channel
	`

	var rows []ChannelAggregate
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, ChannelAggregate{
				EventID:   stmt.ColumnText(0),
				EventName: stmt.ColumnText(1),
				Channel:   stmt.ColumnText(2),
				Count:     stmt.ColumnInt(3),
			})
			return nil
		},
	})
	return rows, err
}

func (r *TicketRepositoryImpl) RefundAggregates(ctx context.Context) ([]RefundAggregate, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := `
		SELECT event_id, event_name, ticket_title, COUNT(*)
		FROM tickets
		WHERE ticket_status IN ('refunded', 'canceled', 'cancelled')
		GROUP BY event_id, event_name, ticket_title
	`

	var rows []RefundAggregate
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, RefundAggregate{
				EventID:   stmt.ColumnText(0),
				EventName: stmt.ColumnText(1),
				Title:     stmt.ColumnText(2),
				Count:     stmt.ColumnInt(3),
			})
			return nil
		},
	})
	return rows, err
}

func (r *TicketRepositoryImpl) ScanAggregates(ctx context.Context) ([]ScanAggregate, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	query := `
		SELECT event_id, event_name, COUNT(*)
		FROM tickets
		WHERE ticket_redeemed_at IS NOT NULL AND ticket_redeemed_at != ''
		GROUP BY event_id, event_name
	`

	var rows []ScanAggregate
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, ScanAggregate{
				EventID:   stmt.ColumnText(0),
				EventName: stmt.ColumnText(1),
				Count:     stmt.ColumnInt(2),
			})
			return nil
		},
	})
	return rows, err
}
