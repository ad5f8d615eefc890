package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lead engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LeadsCreated    *prometheus.CounterVec
	LeadsMerged     prometheus.Counter
	TriageOutcomes  *prometheus.CounterVec
	EmailsSent      *prometheus.CounterVec
	EmailFailures   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	ImportRows      *prometheus.CounterVec
	RemindersSent   prometheus.Counter
	RequestLatency  *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in the server
// and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LeadsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_leads_created_total",
			Help: "Total number of leads created, by source",
		}, []string{"source"}),
		LeadsMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "lead_engine_leads_merged_total",
			Help: "Total number of submissions merged into an existing open lead",
		}),
		TriageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_triage_outcomes_total",
			Help: "Automatic triage results, by resulting status",
		}, []string{"outcome"}),
		EmailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_emails_sent_total",
			Help: "Emails handed to the mail provider, by kind",
		}, []string{"kind"}),
		EmailFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_email_failures_total",
			Help: "Email sends that failed, by kind",
		}, []string{"kind"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_events_published_total",
			Help: "Lead events published, by event name",
		}, []string{"event"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_events_dropped_total",
			Help: "Lead events dropped because a subscriber buffer was full",
		}, []string{"event"}),
		ImportRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lead_engine_import_rows_total",
			Help: "Bulk import rows, by result",
		}, []string{"result"}),
		RemindersSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lead_engine_reminders_sent_total",
			Help: "Follow-up reminders sent for stale qualified leads",
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lead_engine_http_request_duration_seconds",
			Help:    "Latency of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) IncLeadCreated(source string) {
	if m == nil {
		return
	}
	m.LeadsCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) IncLeadMerged() {
	if m == nil {
		return
	}
	m.LeadsMerged.Inc()
}

func (m *Metrics) IncTriageOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TriageOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEmailSent(kind string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEmailFailure(kind string) {
	if m == nil {
		return
	}
	m.EmailFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEventPublished(event string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(event).Inc()
}

func (m *Metrics) IncEventDropped(event string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) AddImportRows(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ImportRows.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) IncReminderSent() {
	if m == nil {
		return
	}
	m.RemindersSent.Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}
