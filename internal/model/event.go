package model

import (
	"strings"
	"time"
)

// Event status labels for the shotgun_events_total gauge.
const (
	EventStatusActive    = "active"
	EventStatusPast      = "past"
	EventStatusCancelled = "cancelled"
)

// Event is one organizer event as returned by the upstream events
// endpoint. Lifecycle timestamps stay in their upstream string form; only
// StartTime is ever parsed, to classify the event.
type Event struct {
	ID          FlexID `json:"id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"createdAt"`
	PublishedAt string `json:"publishedAt"`
	LaunchedAt  string `json:"launchedAt"`
	OnSaleAt    string `json:"onSaleAt"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	CancelledAt string `json:"cancelledAt"`
	TicketsLeft int    `json:"leftTicketsCount"`
}

// LabelID returns the event_id label value, never empty.
func (e *Event) LabelID() string {
	if e.ID == "" {
		return "unknown"
	}
	return e.ID.String()
}

// LabelName returns the event_name label value, never empty.
func (e *Event) LabelName() string {
	if e.Name == "" {
		return "Unknown Event"
	}
	return e.Name
}

// StatusAt classifies the event at the given instant. Cancellation wins
// over everything; otherwise the start time decides active vs past. An
// event with no parseable start time is reported as active.
func (e *Event) StatusAt(now time.Time) string {
	if e.CancelledAt != "" {
		return EventStatusCancelled
	}
	start, err := ParseUpstreamTime(e.StartTime)
	if err != nil {
		return EventStatusActive
	}
	if start.Before(now) {
		return EventStatusPast
	}
	return EventStatusActive
}

var upstreamLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseUpstreamTime parses the ISO-8601 variants the API emits, with and
// without fractional seconds or a zone designator. A bare "Z" suffix is
// handled by RFC3339; zoneless strings are taken as UTC.
func ParseUpstreamTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range upstreamLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
