// Package metrics defines the Prometheus collectors for the scheduler and
// campaign service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campaign_engine"

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Ticks          *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	CampaignsFired *prometheus.CounterVec
	LostRaces      prometheus.Counter
	Errors         *prometheus.CounterVec
	QueueItems     prometheus.Counter
	Recipients     prometheus.Counter
	Exhausted      prometheus.Counter
	SkippedBusy    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler ticks by phase.",
		}, []string{"phase"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "tick_duration_seconds",
			Help:    "Wall time of one scheduler tick.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		CampaignsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "campaigns_fired_total",
			Help: "Campaigns claimed and queued, by campaign type.",
		}, []string{"type"}),
		LostRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "lost_races_total",
			Help: "Conditional status updates that affected zero rows.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "errors_total",
			Help: "Per-campaign failures by stage.",
		}, []string{"stage"}),
		QueueItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "items_created_total",
			Help: "Queue items written by the queue generator.",
		}),
		Recipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recipients", Name: "added_total",
			Help: "Recipients inserted by population.",
		}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "recurrences_exhausted_total",
			Help: "Recurring campaigns completed because no next occurrence exists.",
		}),
		SkippedBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "companies_skipped_total",
			Help: "Companies skipped because another pass held them.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.TickDuration, m.CampaignsFired, m.LostRaces,
			m.Errors, m.QueueItems, m.Recipients, m.Exhausted, m.SkippedBusy)
	}
	return m
}

// Tick counts a scheduler phase run.
func (m *Metrics) Tick(phase string) {
	if m != nil {
		m.Ticks.WithLabelValues(phase).Inc()
	}
}

// ObserveTick records tick wall time in seconds.
func (m *Metrics) ObserveTick(seconds float64) {
	if m != nil {
		m.TickDuration.Observe(seconds)
	}
}

// Fired counts a claimed campaign.
func (m *Metrics) Fired(campaignType string) {
	if m != nil {
		m.CampaignsFired.WithLabelValues(campaignType).Inc()
	}
}

// LostRace counts a CAS miss.
func (m *Metrics) LostRace() {
	if m != nil {
		m.LostRaces.Inc()
	}
}

// Error counts a per-item failure at stage.
func (m *Metrics) Error(stage string) {
	if m != nil {
		m.Errors.WithLabelValues(stage).Inc()
	}
}

// Queued counts created queue items.
func (m *Metrics) Queued(n int) {
	if m != nil && n > 0 {
		m.QueueItems.Add(float64(n))
	}
}

// Populated counts inserted recipients.
func (m *Metrics) Populated(n int) {
	if m != nil && n > 0 {
		m.Recipients.Add(float64(n))
	}
}

// RecurrenceExhausted counts a recurring campaign that ran out of dates.
func (m *Metrics) RecurrenceExhausted() {
	if m != nil {
		m.Exhausted.Inc()
	}
}

// CompanySkipped counts a company skipped as busy.
func (m *Metrics) CompanySkipped() {
	if m != nil {
		m.SkippedBusy.Inc()
	}
}
