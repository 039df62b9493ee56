// Package metrics defines the Prometheus collectors shared by the server and
// the client. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duoledger"

// Metrics groups every collector.
type Metrics struct {
	rpcRequests   *prometheus.CounterVec
	rpcDuration   *prometheus.HistogramVec
	refreshes     *prometheus.CounterVec
	snapshotRows  prometheus.Gauge
	notifications *prometheus.CounterVec
	registerer    prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC calls handled, by procedure and result code.",
		}, []string{"procedure", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Ledger cache refreshes, by result.",
		}, []string{"result"}),
		snapshotRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_snapshot_rows",
			Help:      "Rows in the current ledger snapshot.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_notifications_total",
			Help:      "Change notifications delivered, by event type.",
		}, []string{"event"}),
		registerer: reg,
	}
	reg.MustRegister(m.rpcRequests, m.rpcDuration, m.refreshes, m.snapshotRows, m.notifications)
	return m
}

// ObserveRPC records one handled RPC.
func (m *Metrics) ObserveRPC(procedure, code string, seconds float64) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(procedure, code).Inc()
	m.rpcDuration.WithLabelValues(procedure).Observe(seconds)
}

// ObserveRefresh records a cache refresh. rows is ignored when err is non-nil.
func (m *Metrics) ObserveRefresh(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.refreshes.WithLabelValues("error").Inc()
		return
	}
	m.refreshes.WithLabelValues("ok").Inc()
	m.snapshotRows.Set(float64(rows))
}

// ObserveNotification records a delivered change notification.
func (m *Metrics) ObserveNotification(event string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event).Inc()
}

// TrackSubscriptions exports the live subscription count reported by count.
func (m *Metrics) TrackSubscriptions(count func() int) {
	if m == nil {
		return
	}
	m.registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_subscriptions",
		Help:      "Open change subscriptions.",
	}, func() float64 { return float64(count()) }))
}
