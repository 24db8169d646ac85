// Package metrics exports tracker lifecycle counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/inflight/internal/tracker"
)

const (
	namespace = "inflight"
	subsystem = "tracker"
)

// Collector is a tracker.Observer that maintains Prometheus metrics.
//
// All metrics are labelled by area. Register one Collector per registry and
// share it across executors.
type Collector struct {
	// dispatches counts Dispatch calls.
	// Labels: area, method, outcome (issued, deduped)
	dispatches *prometheus.CounterVec

	// settlements counts applied settlements.
	// Labels: area, state (fulfilled, failed)
	settlements *prometheus.CounterVec

	// removals counts records leaving the store.
	// Labels: area, reason (cleanup, swept)
	removals *prometheus.CounterVec

	// staleCompletions counts completions dropped because the record was gone.
	// Labels: area
	staleCompletions *prometheus.CounterVec

	// settleLatency measures CreatedAt to SettledAt.
	// Labels: area, state
	settleLatency *prometheus.HistogramVec

	// inflight is the number of transport calls not yet processed.
	// Labels: area
	inflight *prometheus.GaugeVec

	// live is the number of records in the store.
	// Labels: area
	live *prometheus.GaugeVec
}

var _ tracker.Observer = (*Collector)(nil)

// New registers the tracker metrics on reg.
// Panics if they are already registered there.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatches_total",
			Help:      "Total dispatches by outcome",
		}, []string{"area", "method", "outcome"}),

		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settlements_total",
			Help:      "Total settled records by terminal state",
		}, []string{"area", "state"}),

		removals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "removals_total",
			Help:      "Total records removed by reason",
		}, []string{"area", "reason"}),

		staleCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stale_completions_total",
			Help:      "Total completions ignored because the record was removed",
		}, []string{"area"}),

		settleLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "settle_latency_seconds",
			Help:      "Time from dispatch to settlement",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"area", "state"}),

		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inflight_calls",
			Help:      "Transport calls whose outcome has not been applied",
		}, []string{"area"}),

		live: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live_records",
			Help:      "Records currently held in the store",
		}, []string{"area"}),
	}
}

func (c *Collector) Dispatched(area string, snap tracker.Snapshot, deduped bool) {
	outcome := "issued"
	if deduped {
		outcome = "deduped"
	}
	c.dispatches.WithLabelValues(area, string(snap.Method), outcome).Inc()
	if !deduped {
		c.inflight.WithLabelValues(area).Inc()
		c.live.WithLabelValues(area).Inc()
	}
}

func (c *Collector) Settled(area string, snap tracker.Snapshot) {
	state := snap.State.String()
	c.settlements.WithLabelValues(area, state).Inc()
	c.settleLatency.WithLabelValues(area, state).Observe(snap.SettledAt.Sub(snap.CreatedAt).Seconds())
	c.inflight.WithLabelValues(area).Dec()
}

func (c *Collector) Removed(area string, snap tracker.Snapshot, reason tracker.RemoveReason) {
	c.removals.WithLabelValues(area, string(reason)).Inc()
	c.live.WithLabelValues(area).Dec()
}

func (c *Collector) StaleCompletion(area string, id string) {
	c.staleCompletions.WithLabelValues(area).Inc()
	c.inflight.WithLabelValues(area).Dec()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
