package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every collector the exporter publishes. Collectors are
// registered against the provided registerer so tests can use a fresh
// registry and avoid duplicate-registration panics.
//
// Counter state moves only through ApplyDiff, which runs under the write
// lock. The /metrics handler gathers under the read lock, so a scrape
// sees either all of a poll cycle's increments or none of them.
type Metrics struct {
	mu       sync.RWMutex
	registry *prometheus.Registry

	ticketsSold      *prometheus.CounterVec
	ticketsRevenue   *prometheus.CounterVec
	ticketsByChannel *prometheus.CounterVec
	ticketsRefunded  *prometheus.CounterVec
	ticketsScanned   *prometheus.CounterVec

	eventsTotal      *prometheus.GaugeVec
	eventTicketsLeft *prometheus.GaugeVec

	apiRequests    *prometheus.CounterVec
	lastScrape     prometheus.Gauge
	lastCycleItems prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ticketsSold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_tickets_sold_total",
			Help: "Total number of tickets sold.",
		}, []string{"event_id", "event_name", "ticket_title"}),
		ticketsRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_tickets_revenue_euros_total",
			Help: "Total revenue from ticket sales in euros.",
		}, []string{"event_id", "event_name", "ticket_title"}),
		ticketsByChannel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_tickets_by_channel_total",
			Help: "Number of tickets sold by sales channel.",
		}, []string{"event_id", "event_name", "channel"}),
		ticketsRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_tickets_refunded_total",
			Help: "Number of tickets refunded or cancelled.",
		}, []string{"event_id", "event_name", "ticket_title"}),
		ticketsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_tickets_scanned_total",
			Help: "Number of tickets scanned at the door.",
		}, []string{"event_id", "event_name"}),
		eventsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shotgun_events_total",
			Help: "Number of events by status.",
		}, []string{"status"}),
		eventTicketsLeft: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shotgun_event_tickets_left",
			Help: "Number of tickets left for an event.",
		}, []string{"event_id", "event_name"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_api_requests_total",
			Help: "Requests made to the Shotgun API.",
		}, []string{"endpoint", "status"}),
		lastScrape: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shotgun_last_scrape_timestamp",
			Help: "Unix timestamp of the last successful collection cycle.",
		}),
		lastCycleItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shotgun_last_cycle_changed_tickets",
			Help: "Tickets inserted or updated during the last cycle.",
		}),
	}

	registry.MustRegister(
		m.ticketsSold, m.ticketsRevenue, m.ticketsByChannel,
		m.ticketsRefunded, m.ticketsScanned,
		m.eventsTotal, m.eventTicketsLeft,
		m.apiRequests, m.lastScrape, m.lastCycleItems,
	)
	return m
}

// Gather implements prometheus.Gatherer. Runs under the read lock so a
// scrape never interleaves with ApplyDiff.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.Gather()
}

// Handler returns the exposition handler backed by the locked gatherer.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m, promhttp.HandlerOpts{})
}

// ApplyDiff applies one cycle's worth of counter increments atomically
// with respect to Gather.
func (m *Metrics) ApplyDiff(diff *Diff) {
	if diff == nil || diff.Empty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for labels, count := range diff.Sold {
		m.ticketsSold.WithLabelValues(labels.EventID, labels.EventName, labels.Title).Add(float64(count))
	}
	for labels, revenue := range diff.Revenue {
		m.ticketsRevenue.WithLabelValues(labels.EventID, labels.EventName, labels.Title).Add(revenue)
	}
	for labels, count := range diff.ByChannel {
		m.ticketsByChannel.WithLabelValues(labels.EventID, labels.EventName, labels.Channel).Add(float64(count))
	}
	for labels, count := range diff.Refunded {
		m.ticketsRefunded.WithLabelValues(labels.EventID, labels.EventName, labels.Title).Add(float64(count))
	}
	for labels, count := range diff.Scanned {
		m.ticketsScanned.WithLabelValues(labels.EventID, labels.EventName).Add(float64(count))
	}
}

// EventGauge is one event's tickets-left reading.
type EventGauge struct {
	EventID     string
	EventName   string
	TicketsLeft int
}

// SetEventGauges rebuilds the event gauges from a fresh events fetch.
// Gauges for events no longer returned by the API must not linger, so
// both vectors are reset first.
func (m *Metrics) SetEventGauges(statusCounts map[string]int, ticketsLeft []EventGauge) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventsTotal.Reset()
	for status, count := range statusCounts {
		m.eventsTotal.WithLabelValues(status).Set(float64(count))
	}

	m.eventTicketsLeft.Reset()
	for _, g := range ticketsLeft {
		m.eventTicketsLeft.WithLabelValues(g.EventID, g.EventName).Set(float64(g.TicketsLeft))
	}
}

// ObserveAPIRequest counts one upstream API request. Not part of a cycle,
// so no cycle lock is involved beyond the counter's own synchronization.
func (m *Metrics) ObserveAPIRequest(endpoint, status string) {
	m.apiRequests.WithLabelValues(endpoint, status).Inc()
}

// MarkCycle records the completion of a successful collection cycle.
func (m *Metrics) MarkCycle(at time.Time, changedTickets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScrape.Set(float64(at.Unix()))
	m.lastCycleItems.Set(float64(changedTickets))
}
