package reimport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shotgun-exporter/internal/model"
	"shotgun-exporter/internal/repository"
	"shotgun-exporter/pkg/logger"

	"go.uber.org/zap"
)

// exportedMetrics are the series families the exporter owns for an
// event. Deleting and re-importing an event touches exactly these.
var exportedMetrics = []string{
	"shotgun_tickets_sold_total",
	"shotgun_tickets_revenue_euros_total",
	"shotgun_tickets_by_channel_total",
	"shotgun_tickets_refunded_total",
	"shotgun_tickets_scanned_total",
}

// Service rebuilds an event's metric history in VictoriaMetrics from the
// local ticket cache, using each ticket's original timestamps. Useful
// after label changes or a corrupted time series.
type Service struct {
	tickets    repository.TicketRepository
	vmURL      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewService(tickets repository.TicketRepository, vmURL string) *Service {
	return &Service{
		tickets:    tickets,
		vmURL:      strings.TrimRight(vmURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        logger.WithComponent("reimport"),
	}
}

// Result describes one processed event.
type Result struct {
	EventID   string
	EventName string
	Lines     []string
	Imported  bool
}

func (s *Service) ListEvents(ctx context.Context) ([]repository.EventSummary, error) {
	return s.tickets.ListEventSummaries(ctx)
}

// ReimportEvent deletes the event's existing series and re-imports one
// metric point per ticket with its original timestamp. With dryRun set,
// nothing is sent and the generated lines are returned for inspection.
func (s *Service) ReimportEvent(ctx context.Context, eventID string, dryRun bool) (*Result, error) {
	tickets, err := s.tickets.ListByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		EventID:   eventID,
		EventName: tickets[0].EventName,
		Lines:     BuildLines(tickets),
	}
	if len(result.Lines) == 0 {
		return result, nil
	}
	if dryRun {
		return result, nil
	}

	if err := s.DeleteSeries(ctx, eventID); err != nil {
		return nil, err
	}
	if err := s.importLines(ctx, result.Lines); err != nil {
		return nil, err
	}
	result.Imported = true
	s.log.Info("event re-imported",
		zap.String("event_id", eventID),
		zap.Int("lines", len(result.Lines)))
	return result, nil
}

// DeleteSeries drops every exporter-owned series for the event from
// VictoriaMetrics.
func (s *Service) DeleteSeries(ctx context.Context, eventID string) error {
	deleteURL := s.vmURL + "/api/v1/admin/tsdb/delete_series"
	for _, metric := range exportedMetrics {
		match := fmt.Sprintf(`%s{event_id=%q}`, metric, eventID)
		params := url.Values{}
		params.Set("match[]", match)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, deleteURL+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", match, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("deleting %s: status %d", match, resp.StatusCode)
		}
	}
	return nil
}

func (s *Service) importLines(ctx context.Context, lines []string) error {
	importURL := s.vmURL + "/api/v1/import/prometheus"
	body := strings.NewReader(strings.Join(lines, "\n"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, importURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("importing series: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("importing series: status %d", resp.StatusCode)
	}
	return nil
}

// BuildLines renders one exposition-format line per metric point a
// ticket contributed, stamped with the ticket's own timestamps.
func BuildLines(tickets []*model.Ticket) []string {
	var lines []string
	for _, ticket := range tickets {
		orderedMs, err := timestampMs(ticket.OrderedAt)
		if err != nil {
			continue
		}

		labels := [][2]string{
			{"event_id", ticket.LabelEventID()},
			{"event_name", ticket.LabelEventName()},
			{"ticket_title", ticket.NormalizedTitle()},
		}

		switch {
		case ticket.IsValid():
			lines = append(lines,
				formatLine("shotgun_tickets_sold_total", labels, 1, orderedMs),
				formatLine("shotgun_tickets_revenue_euros_total", labels, ticket.Price, orderedMs))

			channelLabels := [][2]string{
				{"event_id", ticket.LabelEventID()},
				{"event_name", ticket.LabelEventName()},
				{"channel", ticket.LabelChannel()},
			}
			lines = append(lines,
				formatLine("shotgun_tickets_by_channel_total", channelLabels, 1, orderedMs))

		case ticket.IsRefunded():
			refundMs := orderedMs
			if ms, err := timestampMs(ticket.CancelledAt); err == nil {
				refundMs = ms
			}
			lines = append(lines,
				formatLine("shotgun_tickets_refunded_total", labels, 1, refundMs))
		}

		if ticket.IsRedeemed() {
			if scanMs, err := timestampMs(ticket.RedeemedAt); err == nil {
				scanLabels := [][2]string{
					{"event_id", ticket.LabelEventID()},
					{"event_name", ticket.LabelEventName()},
				}
				lines = append(lines,
					formatLine("shotgun_tickets_scanned_total", scanLabels, 1, scanMs))
			}
		}
	}
	return lines
}

func timestampMs(iso string) (int64, error) {
	if iso == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	t, err := model.ParseUpstreamTime(iso)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func formatLine(metric string, labels [][2]string, value float64, timestampMs int64) string {
	pairs := make([]string, 0, len(labels))
	for _, label := range labels {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, label[0], labelEscaper.Replace(label[1])))
	}
	return fmt.Sprintf("%s{%s} %s %d",
		metric,
		strings.Join(pairs, ","),
		strconv.FormatFloat(value, 'g', -1, 64),
		timestampMs)
}
