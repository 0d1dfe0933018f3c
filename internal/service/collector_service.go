package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/client"
	"shotgun-exporter/internal/metrics"
	"shotgun-exporter/internal/model"
	"shotgun-exporter/internal/repository"
	apperrors "shotgun-exporter/pkg/app_errors"
	"shotgun-exporter/pkg/logger"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite/sqlitex"
)

// CollectorService runs the fetch-reconcile-publish cycle. Reconciliation
// happens inside a single SQLite transaction; the resulting diff is
// applied to the metrics registry only after the transaction commits, so
// a replayed fetch or an aborted cycle never moves a counter.
type CollectorService interface {
	// RestoreCounters rebuilds counter state from the persisted snapshot.
	// Called once at startup, before the first cycle.
	RestoreCounters(ctx context.Context) error
	// Collect runs one poll cycle. Errors wrapping ErrUpstream mean the
	// cycle was skipped and the next interval should retry; any other
	// error is a local store failure and is fatal to the process.
	Collect(ctx context.Context) error
}

type CollectorServiceImpl struct {
	pool    *sqlitex.Pool
	tickets repository.TicketRepository
	state   repository.StateRepository
	client  client.ShotgunClient
	metrics *metrics.Metrics
	cfg     config.ExporterConfig
	log     *zap.Logger

	// now is injected for deterministic tests.
	now func() time.Time
}

func NewCollectorService(
	pool *sqlitex.Pool,
	tickets repository.TicketRepository,
	state repository.StateRepository,
	shotgun client.ShotgunClient,
	m *metrics.Metrics,
	cfg config.ExporterConfig,
) *CollectorServiceImpl {
	return &CollectorServiceImpl{
		pool:    pool,
		tickets: tickets,
		state:   state,
		client:  shotgun,
		metrics: m,
		cfg:     cfg,
		log:     logger.WithComponent("collector"),
		now:     time.Now,
	}
}

func (s *CollectorServiceImpl) Collect(ctx context.Context) error {
	start := s.now()

	if s.shouldFetchEvents(ctx) {
		if err := s.collectEvents(ctx); err != nil {
			// Event gauges are rebuilt from scratch each refresh; on a
			// fetch failure the previous gauge values stay in place and
			// the ticket collection below still runs.
			s.log.Warn("events fetch failed, keeping previous gauges", zap.Error(err))
		}
	}

	fullScan := s.shouldFullScan(ctx)

	known, err := s.tickets.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing known tickets: %w", err)
	}

	fetched, err := s.client.FetchTickets(ctx, client.FetchOptions{
		FullScan: fullScan,
		Known: func(ticketID string) bool {
			_, ok := known[ticketID]
			return ok
		},
	})
	if err != nil {
		return err
	}

	diff, changed, err := s.reconcile(ctx, fetched)
	if err != nil {
		return fmt.Errorf("reconciling tickets: %w", err)
	}

	s.metrics.ApplyDiff(diff)

	if fullScan {
		if err := s.state.SetTime(ctx, repository.StateKeyLastFullScan, s.now()); err != nil {
			return fmt.Errorf("marking full scan: %w", err)
		}
	}

	s.metrics.MarkCycle(s.now(), changed)
	s.log.Info("collection cycle complete",
		zap.Bool("full_scan", fullScan),
		zap.Int("fetched", len(fetched)),
		zap.Int("changed", changed),
		zap.Duration("elapsed", s.now().Sub(start)))
	return nil
}

// reconcile diffs the fetched tickets against the stored snapshot and
// persists inserts, updates and status-change history in one immediate
// transaction. The returned diff holds exactly the counter increments
// the changes justify.
func (s *CollectorServiceImpl) reconcile(ctx context.Context, fetched []*model.Ticket) (diff *metrics.Diff, changed int, err error) {
	diff = metrics.NewDiff()
	if len(fetched) == 0 {
		return diff, 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, 0, err
	}
	defer endTransaction(&err)

	now := s.now()
	inserted, updated, refunds := 0, 0, 0

	for _, ticket := range fetched {
		if ticket.TicketID == "" {
			continue
		}

		existing, getErr := s.tickets.GetTx(conn, ticket.TicketID.String())
		if getErr != nil && !errors.Is(getErr, apperrors.ErrTicketNotFound) {
			return nil, 0, getErr
		}

		labels := metrics.TicketLabels{
			EventID:   ticket.LabelEventID(),
			EventName: ticket.LabelEventName(),
			Title:     ticket.NormalizedTitle(),
		}
		eventLabels := metrics.EventLabels{EventID: labels.EventID, EventName: labels.EventName}

		if existing == nil {
			if insertErr := s.tickets.InsertTx(conn, ticket, now); insertErr != nil {
				return nil, 0, insertErr
			}
			inserted++

			if ticket.IsValid() {
				channel := metrics.ChannelLabels{
					EventID:   labels.EventID,
					EventName: labels.EventName,
					Channel:   ticket.LabelChannel(),
				}
				diff.AddSold(labels, channel, ticket.Price)
			} else if ticket.IsRefunded() {
				diff.AddRefund(labels)
			}
			if ticket.IsRedeemed() {
				diff.AddScan(eventLabels)
			}
			continue
		}

		statusChanged := existing.Status != ticket.Status
		newlyRedeemed := ticket.IsRedeemed() && !existing.IsRedeemed()
		fieldsChanged := statusChanged || newlyRedeemed ||
			existing.Price != ticket.Price ||
			existing.CancelledAt != ticket.CancelledAt

		if !fieldsChanged {
			continue
		}

		if updateErr := s.tickets.UpdateTx(conn, ticket, now); updateErr != nil {
			return nil, 0, updateErr
		}
		updated++

		if statusChanged {
			if histErr := s.tickets.RecordStatusChangeTx(conn, ticket.TicketID.String(), existing.Status, ticket.Status, now); histErr != nil {
				return nil, 0, histErr
			}
			s.log.Info("ticket status change",
				zap.String("ticket_id", ticket.TicketID.String()),
				zap.String("old_status", existing.Status),
				zap.String("new_status", ticket.Status))

			if existing.IsValid() && ticket.IsRefunded() {
				refunds++
				diff.AddRefund(labels)
			}
		}
		if newlyRedeemed {
			diff.AddScan(eventLabels)
		}
	}

	s.log.Info("reconciled tickets",
		zap.Int("inserted", inserted),
		zap.Int("updated", updated),
		zap.Int("refunds", refunds))
	return diff, inserted + updated, nil
}

// collectEvents refreshes the event gauges from a fresh events fetch.
func (s *CollectorServiceImpl) collectEvents(ctx context.Context) error {
	events, err := s.client.FetchEvents(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	statusCounts := map[string]int{
		model.EventStatusActive:    0,
		model.EventStatusPast:      0,
		model.EventStatusCancelled: 0,
	}
	gauges := make([]metrics.EventGauge, 0, len(events))
	for _, event := range events {
		statusCounts[event.StatusAt(now)]++
		gauges = append(gauges, metrics.EventGauge{
			EventID:     event.LabelID(),
			EventName:   event.LabelName(),
			TicketsLeft: event.TicketsLeft,
		})
	}
	s.metrics.SetEventGauges(statusCounts, gauges)

	if err := s.state.SetTime(ctx, repository.StateKeyLastEventsFetch, now); err != nil {
		return fmt.Errorf("marking events fetch: %w", err)
	}
	return nil
}

func (s *CollectorServiceImpl) RestoreCounters(ctx context.Context) error {
	count, err := s.tickets.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting stored tickets: %w", err)
	}
	if count == 0 {
		s.log.Info("empty database, nothing to restore")
		return nil
	}

	diff := metrics.NewDiff()

	sold, err := s.tickets.SoldAggregates(ctx)
	if err != nil {
		return fmt.Errorf("restoring sold counters: %w", err)
	}
	for _, row := range sold {
		labels := metrics.TicketLabels{EventID: row.EventID, EventName: row.EventName, Title: row.Title}
		diff.Sold[labels] += row.Count
		diff.AddRevenue(labels, row.Revenue)
	}

	channels, err := s.tickets.ChannelAggregates(ctx)
	if err != nil {
		return fmt.Errorf("restoring channel counters: %w", err)
	}
	for _, row := range channels {
		diff.ByChannel[metrics.ChannelLabels{EventID: row.EventID, EventName: row.EventName, Channel: row.Channel}] += row.Count
	}

	refunds, err := s.tickets.RefundAggregates(ctx)
	if err != nil {
		return fmt.Errorf("restoring refund counters: %w", err)
	}
	for _, row := range refunds {
		diff.Refunded[metrics.TicketLabels{EventID: row.EventID, EventName: row.EventName, Title: row.Title}] += row.Count
	}

	scans, err := s.tickets.ScanAggregates(ctx)
	if err != nil {
		return fmt.Errorf("restoring scan counters: %w", err)
	}
	for _, row := range scans {
		diff.Scanned[metrics.EventLabels{EventID: row.EventID, EventName: row.EventName}] += row.Count
	}

	s.metrics.ApplyDiff(diff)
	s.log.Info("counters restored from database", zap.Int("tickets", count))
	return nil
}

// shouldFullScan reports whether the full-scan interval has elapsed. A
// missing or unreadable marker forces a full scan, which is always safe.
func (s *CollectorServiceImpl) shouldFullScan(ctx context.Context) bool {
	last, err := s.state.GetTime(ctx, repository.StateKeyLastFullScan)
	if err != nil {
		if !errors.Is(err, apperrors.ErrStateKeyNotFound) {
			s.log.Warn("reading last full scan marker", zap.Error(err))
		}
		return true
	}
	return s.now().Sub(last) >= s.cfg.FullScanInterval
}

func (s *CollectorServiceImpl) shouldFetchEvents(ctx context.Context) bool {
	last, err := s.state.GetTime(ctx, repository.StateKeyLastEventsFetch)
	if err != nil {
		if !errors.Is(err, apperrors.ErrStateKeyNotFound) {
			s.log.Warn("reading last events fetch marker", zap.Error(err))
		}
		return true
	}
	return s.now().Sub(last) >= s.cfg.EventsInterval
}
