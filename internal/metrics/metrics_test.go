package metrics

import (
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, metric := range family.GetMetric() {
			got := map[string]string{}
			for _, pair := range metric.GetLabel() {
				got[pair.GetName()] = pair.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				return metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_ApplyDiff(t *testing.T) {
	t.Run("Success - all counter families move together", func(t *testing.T) {
		m := NewMetrics()

		diff := NewDiff()
		labels := TicketLabels{EventID: "77", EventName: "Summer Rave", Title: "Early Bird"}
		channel := ChannelLabels{EventID: "77", EventName: "Summer Rave", Channel: "online"}
		diff.AddSold(labels, channel, 25.5)
		diff.AddSold(labels, channel, 30)
		diff.AddRefund(labels)
		diff.AddScan(EventLabels{EventID: "77", EventName: "Summer Rave"})

		m.ApplyDiff(diff)

		want := map[string]string{"event_id": "77", "event_name": "Summer Rave", "ticket_title": "Early Bird"}
		assert.Equal(t, 2.0, metricValue(t, m, "shotgun_tickets_sold_total", want))
		assert.InDelta(t, 55.5, metricValue(t, m, "shotgun_tickets_revenue_euros_total", want), 0.001)
		assert.Equal(t, 2.0, metricValue(t, m, "shotgun_tickets_by_channel_total",
			map[string]string{"event_id": "77", "channel": "online"}))
		assert.Equal(t, 1.0, metricValue(t, m, "shotgun_tickets_refunded_total", want))
		assert.Equal(t, 1.0, metricValue(t, m, "shotgun_tickets_scanned_total",
			map[string]string{"event_id": "77"}))
	})

	t.Run("Success - empty diff is a no-op", func(t *testing.T) {
		m := NewMetrics()
		m.ApplyDiff(NewDiff())
		m.ApplyDiff(nil)

		families, err := m.Gather()
		require.NoError(t, err)
		for _, family := range families {
			if family.GetName() == "shotgun_tickets_sold_total" {
				assert.Empty(t, family.GetMetric())
			}
		}
	})
}

func TestMetrics_SetEventGauges(t *testing.T) {
	t.Run("Success - rebuild drops stale series", func(t *testing.T) {
		m := NewMetrics()

		m.SetEventGauges(
			map[string]int{"active": 2, "past": 1},
			[]EventGauge{
				{EventID: "77", EventName: "Summer Rave", TicketsLeft: 150},
				{EventID: "88", EventName: "Autumn Closing", TicketsLeft: 40},
			})
		assert.Equal(t, 2.0, metricValue(t, m, "shotgun_events_total", map[string]string{"status": "active"}))
		assert.Equal(t, 150.0, metricValue(t, m, "shotgun_event_tickets_left", map[string]string{"event_id": "77"}))

		// Event 88 disappears on the next refresh.
		m.SetEventGauges(
			map[string]int{"active": 1, "past": 2},
			[]EventGauge{{EventID: "77", EventName: "Summer Rave", TicketsLeft: 120}})

		families, err := m.Gather()
		require.NoError(t, err)
		for _, family := range families {
			if family.GetName() == "shotgun_event_tickets_left" {
				assert.Len(t, family.GetMetric(), 1)
			}
		}
		assert.Equal(t, 120.0, metricValue(t, m, "shotgun_event_tickets_left", map[string]string{"event_id": "77"}))
	})
}

func TestMetrics_MarkCycle(t *testing.T) {
	m := NewMetrics()
	at := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	m.MarkCycle(at, 7)

	assert.Equal(t, float64(at.Unix()), metricValue(t, m, "shotgun_last_scrape_timestamp", nil))
	assert.Equal(t, 7.0, metricValue(t, m, "shotgun_last_cycle_changed_tickets", nil))
}

func TestMetrics_ConcurrentGather(t *testing.T) {
	// A scrape racing with ApplyDiff must not panic or tear; the data
	// race itself is what -race would catch without the registry lock.
	m := NewMetrics()
	labels := TicketLabels{EventID: "1", EventName: "E", Title: "T"}
	channel := ChannelLabels{EventID: "1", EventName: "E", Channel: "online"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			diff := NewDiff()
			diff.AddSold(labels, channel, 1)
			m.ApplyDiff(diff)
		}()
		go func() {
			defer wg.Done()
			_, err := m.Gather()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8.0, metricValue(t, m, "shotgun_tickets_sold_total",
		map[string]string{"event_id": "1"}))
}

func TestDiff_Empty(t *testing.T) {
	diff := NewDiff()
	assert.True(t, diff.Empty())

	diff.AddRefund(TicketLabels{EventID: "1"})
	assert.False(t, diff.Empty())
}
