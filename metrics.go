package datatable

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts refresh cycles and derivations per table. A nil *Metrics
// records nothing.
type Metrics struct {
	fetches     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	derivations *prometheus.CounterVec
	rows        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datatable",
			Name:      "fetch_cycles_total",
			Help:      "Refresh cycles by outcome (started, completed, failed, skipped).",
		}, []string{"table", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datatable",
			Name:      "fetch_duration_seconds",
			Help:      "Time from handing a FetchContext out to its completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),
		derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datatable",
			Name:      "derivations_total",
			Help:      "Filter, sort and paginate passes by result.",
		}, []string{"table", "result"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "datatable",
			Name:      "rows",
			Help:      "Row counts of the last derivation (raw, filtered, excluded).",
		}, []string{"table", "set"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.duration, m.derivations, m.rows)
	}
	return m
}

func (m *Metrics) fetch(table, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(table, outcome).Inc()
}

func (m *Metrics) fetchDone(table string, started time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(table).Observe(time.Since(started).Seconds())
}

func (m *Metrics) derived(table string, err error, raw, filtered, excluded int) {
	if m == nil {
		return
	}
	if err != nil {
		m.derivations.WithLabelValues(table, "error").Inc()
		return
	}
	m.derivations.WithLabelValues(table, "ok").Inc()
	m.rows.WithLabelValues(table, "raw").Set(float64(raw))
	m.rows.WithLabelValues(table, "filtered").Set(float64(filtered))
	m.rows.WithLabelValues(table, "excluded").Set(float64(excluded))
}
