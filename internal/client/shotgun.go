package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/metrics"
	"shotgun-exporter/internal/model"
	apperrors "shotgun-exporter/pkg/app_errors"
	"shotgun-exporter/pkg/logger"

	"go.uber.org/zap"
)

// FetchOptions controls one tickets fetch. Known lets an incremental
// scan stop paginating once a whole page of already-seen tickets comes
// back; a full scan walks every page regardless.
type FetchOptions struct {
	FullScan bool
	Known    func(ticketID string) bool
}

type ShotgunClient interface {
	FetchTickets(ctx context.Context, opts FetchOptions) ([]*model.Ticket, error)
	FetchEvents(ctx context.Context) ([]*model.Event, error)
}

type ShotgunClientImpl struct {
	cfg        config.ShotgunConfig
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewShotgunClient(cfg config.ShotgunConfig, m *metrics.Metrics) ShotgunClient {
	return &ShotgunClientImpl{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		metrics:    m,
		log:        logger.WithComponent("shotgun_client"),
	}
}

type paginationInfo struct {
	TotalResults int    `json:"totalResults"`
	Next         string `json:"next"`
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	Pagination paginationInfo    `json:"pagination"`
}

// get performs one authenticated request and decodes the JSON envelope.
func (c *ShotgunClientImpl) get(ctx context.Context, rawURL string, params url.Values) (*listResponse, error) {
	endpoint := rawURL[strings.LastIndex(rawURL, "/")+1:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status := "error"
		if isTimeout(err) {
			status = "timeout"
		}
		c.metrics.ObserveAPIRequest(endpoint, status)
		return nil, fmt.Errorf("%w: GET %s: %v", apperrors.ErrUpstream, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.metrics.ObserveAPIRequest(endpoint, "error")
		c.log.Error("api error",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: GET %s: status %d", apperrors.ErrUpstream, rawURL, resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		c.metrics.ObserveAPIRequest(endpoint, "error")
		return nil, fmt.Errorf("%w: GET %s: decoding response: %v", apperrors.ErrUpstream, rawURL, err)
	}

	c.metrics.ObserveAPIRequest(endpoint, "success")
	return &page, nil
}

// nextCursor extracts the cursor query parameter from the pagination
// "next" URL the API hands back.
func nextCursor(next string) (string, bool) {
	if next == "" {
		return "", false
	}
	u, err := url.Parse(next)
	if err != nil {
		return "", false
	}
	cursor := u.Query().Get("cursor")
	return cursor, cursor != ""
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	for e := err; e != nil; {
		var ok bool
		if urlErr, ok = e.(*url.Error); ok {
			return urlErr.Timeout()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return false
}

// FetchTickets walks the paginated tickets/sold endpoint. Any request or
// envelope error aborts the whole fetch; individual malformed records are
// logged and skipped.
func (c *ShotgunClientImpl) FetchTickets(ctx context.Context, opts FetchOptions) ([]*model.Ticket, error) {
	ticketsURL := c.cfg.BaseURL + "/tickets/sold"

	params := url.Values{}
	params.Set("organizer_id", c.cfg.OrganizerID)
	params.Set("cursor", "")
	if c.cfg.IncludeCohostedEvents {
		params.Set("include_cohosted_events", "true")
	}

	scanMode := "incremental"
	if opts.FullScan {
		scanMode = "full"
	}
	c.log.Info("fetching tickets", zap.String("scan_mode", scanMode))

	var tickets []*model.Ticket
	pageCount := 0

	for {
		page, err := c.get(ctx, ticketsURL, params)
		if err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}
		pageCount++

		knownInPage := 0
		for _, raw := range page.Data {
			ticket, err := decodeTicket(raw)
			if err != nil {
				c.log.Warn("skipping malformed ticket record", zap.Error(err))
				continue
			}
			tickets = append(tickets, ticket)
			if opts.Known != nil && opts.Known(ticket.TicketID.String()) {
				knownInPage++
			}
		}

		c.log.Info("fetched tickets page",
			zap.Int("page", pageCount),
			zap.Int("page_size", len(page.Data)),
			zap.Int("total", len(tickets)),
			zap.Int("total_results", page.Pagination.TotalResults))

		// Incremental scans stop once an entire page is already known:
		// everything beyond it was seen on a previous poll.
		if !opts.FullScan && opts.Known != nil && knownInPage >= len(page.Data) {
			c.log.Info("incremental scan complete, page fully known",
				zap.Int("pages", pageCount))
			return tickets, nil
		}

		cursor, ok := nextCursor(page.Pagination.Next)
		if !ok {
			break
		}
		params.Set("cursor", cursor)
	}

	c.log.Info("tickets fetch complete",
		zap.Int("pages", pageCount),
		zap.Int("total", len(tickets)))
	return tickets, nil
}

// FetchEvents returns the organizer's upcoming and past events.
func (c *ShotgunClientImpl) FetchEvents(ctx context.Context) ([]*model.Event, error) {
	eventsURL := fmt.Sprintf("%s/organizers/%s/events", c.cfg.BaseURL, c.cfg.OrganizerID)

	future, err := c.get(ctx, eventsURL, nil)
	if err != nil {
		return nil, err
	}

	pastParams := url.Values{}
	pastParams.Set("past_events", "true")
	pastParams.Set("limit", "100")
	past, err := c.get(ctx, eventsURL, pastParams)
	if err != nil {
		return nil, err
	}

	var events []*model.Event
	for _, raw := range append(future.Data, past.Data...) {
		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.log.Warn("skipping malformed event record", zap.Error(err))
			continue
		}
		events = append(events, &event)
	}

	c.log.Info("events fetch complete", zap.Int("total", len(events)))
	return events, nil
}

// decodeTicket unmarshals one raw ticket record and builds the filtered
// payload that gets persisted alongside the snapshot columns.
func decodeTicket(raw json.RawMessage) (*model.Ticket, error) {
	var ticket model.Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedRecord, err)
	}
	if ticket.TicketID == "" {
		return nil, fmt.Errorf("%w: missing ticket_id", apperrors.ErrMalformedRecord)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedRecord, err)
	}
	filtered, err := model.FilterPersonalData(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedRecord, err)
	}
	ticket.Payload = filtered
	return &ticket, nil
}
