package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report planning activity.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	recurrences     *prometheus.CounterVec
	plannedDates    prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsFailed  prometheus.Counter
	draftsPurged    prometheus.Counter
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, except for collectors that are already registered,
// which are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "session_planner",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests by route and status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		recurrences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "session_planner",
				Subsystem: "recurrence",
				Name:      "requests_total",
				Help:      "Recurrence requests by operation and outcome (ok, invalid, error).",
			},
			[]string{"operation", "outcome"},
		),
		plannedDates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_planner",
			Subsystem: "recurrence",
			Name:      "planned_dates_total",
			Help:      "Dates produced by previews and duplications.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_planner",
			Subsystem: "duplication",
			Name:      "sessions_created_total",
			Help:      "Sessions created in the backend by duplication.",
		}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_planner",
			Subsystem: "duplication",
			Name:      "sessions_failed_total",
			Help:      "Session creations that failed during duplication.",
		}),
		draftsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session_planner",
			Subsystem: "drafts",
			Name:      "purged_total",
			Help:      "Expired drafts removed by the purge loop.",
		}),
	}

	m.requestDuration = register(reg, m.requestDuration)
	m.recurrences = register(reg, m.recurrences)
	m.plannedDates = register(reg, m.plannedDates)
	m.sessionsCreated = register(reg, m.sessionsCreated)
	m.sessionsFailed = register(reg, m.sessionsFailed)
	m.draftsPurged = register(reg, m.draftsPurged)

	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveRequest records the duration of an HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// IncRecurrence counts a recurrence operation by outcome.
func (m *Metrics) IncRecurrence(operation, outcome string) {
	if m == nil {
		return
	}
	m.recurrences.WithLabelValues(operation, outcome).Inc()
}

// AddPlannedDates counts dates produced by a plan.
func (m *Metrics) AddPlannedDates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.plannedDates.Add(float64(n))
}

// AddDuplication counts created and failed sessions of a duplication.
func (m *Metrics) AddDuplication(created, failed int) {
	if m == nil {
		return
	}
	if created > 0 {
		m.sessionsCreated.Add(float64(created))
	}
	if failed > 0 {
		m.sessionsFailed.Add(float64(failed))
	}
}

// AddDraftsPurged counts purged drafts.
func (m *Metrics) AddDraftsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.draftsPurged.Add(float64(n))
}
