// Package metrics exposes Prometheus collectors for bid streams, bid
// placement and the payment fallback retry queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rooster_auction"

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	activeStreams  prometheus.Gauge
	streamUpdates  prometheus.Counter
	bidsPlaced     *prometheus.CounterVec
	retryJobs      *prometheus.CounterVec
	retryBackoff   prometheus.Histogram
	feedConnection prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_subscriptions",
			Help:      "Bid stream subscriptions currently open.",
		}),
		streamUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "updates_total",
			Help:      "Bid updates delivered to consumers.",
		}),
		bidsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bids",
			Name:      "placed_total",
			Help:      "Bid placement attempts by result.",
		}, []string{"result"}),
		retryJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "transitions_total",
			Help:      "Payment fallback job state transitions.",
		}, []string{"state"}),
		retryBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "backoff_seconds",
			Help:      "Backoff delay scheduled after a failed settlement attempt.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
		}),
		feedConnection: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connections",
			Help:      "Live bid feed subscriptions across websocket connections.",
		}),
	}

	m.registry.MustRegister(
		m.activeStreams,
		m.streamUpdates,
		m.bidsPlaced,
		m.retryJobs,
		m.retryBackoff,
		m.feedConnection,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.activeStreams.Dec()
	}
}

func (m *Metrics) StreamUpdate() {
	if m != nil {
		m.streamUpdates.Inc()
	}
}

func (m *Metrics) BidPlaced(accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.bidsPlaced.WithLabelValues(result).Inc()
}

func (m *Metrics) RetryTransition(state string) {
	if m != nil {
		m.retryJobs.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) RetryBackoff(seconds float64) {
	if m != nil {
		m.retryBackoff.Observe(seconds)
	}
}

func (m *Metrics) FeedConnections(n int) {
	if m != nil {
		m.feedConnection.Set(float64(n))
	}
}
