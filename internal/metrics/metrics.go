// Package metrics exposes the broadcast core's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for delivery and scheduling.
type Metrics struct {
	MessagesSentTotal   prometheus.Counter
	MessagesFailedTotal prometheus.Counter

	CampaignsDeliveredTotal prometheus.Counter
	CampaignsCancelledTotal prometheus.Counter
	CampaignsStaleTotal     prometheus.Counter

	SchedulerTicksTotal *prometheus.CounterVec
	DueCampaigns        prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmbot_messages_sent_total",
			Help: "Messages delivered to recipients",
		}),
		MessagesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmbot_messages_failed_total",
			Help: "Per-recipient delivery failures",
		}),
		CampaignsDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmbot_campaigns_delivered_total",
			Help: "Completed campaign delivery passes",
		}),
		CampaignsCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmbot_campaigns_cancelled_total",
			Help: "Campaigns cancelled after a batch-fatal error",
		}),
		CampaignsStaleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmbot_campaigns_stale_total",
			Help: "Scheduled campaigns auto-cancelled past the staleness cutoff",
		}),
		SchedulerTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmbot_scheduler_ticks_total",
			Help: "Due-check ticks by cadence",
		}, []string{"cadence"}),
		DueCampaigns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crmbot_due_campaigns",
			Help: "Campaigns seen due on the last tick",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.CampaignsDeliveredTotal,
		m.CampaignsCancelledTotal,
		m.CampaignsStaleTotal,
		m.SchedulerTicksTotal,
		m.DueCampaigns,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
